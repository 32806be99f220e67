package sandbox

import (
	"context"
	"net/http"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/pkg/errors"
)

// graphqlSchema mirrors the slice of the production Flash schema the wallet
// uses: phone-code request, phone login, and the identity query.
const graphqlSchema = `
schema {
	query: Query
	mutation: Mutation
}

type Query {
	me: User
}

type Mutation {
	captchaRequestAuthCode(input: CaptchaRequestAuthCodeInput!): AuthCodeResult!
	userLogin(input: UserLoginInput!): UserLoginResult!
}

input CaptchaRequestAuthCodeInput {
	phone: String!
	channel: String!
	challengeCode: String!
	validationCode: String!
	secCode: String!
}

input UserLoginInput {
	phone: String!
	code: String!
}

type AuthCodeResult {
	success: Boolean!
	errors: [InputError!]!
}

type UserLoginResult {
	authToken: String
	totpRequired: Boolean!
	errors: [InputError!]!
}

type InputError {
	message: String!
	code: String!
}

type User {
	id: ID!
	username: String!
	phone: String!
}
`

// graphqlHandler parses the schema once and serves it through the relay
// handler, with bearer claims decoded into the request context so resolvers
// can tell who is asking.
func (s *Server) graphqlHandler() http.Handler {
	schema := graphql.MustParseSchema(graphqlSchema, &rootResolver{srv: s})
	inner := &relay.Handler{Schema: schema}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accountID, err := s.authenticate(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), accountIDKey, accountID))
		}
		inner.ServeHTTP(w, r)
	})
}

type rootResolver struct {
	srv *Server
}

type captchaRequestAuthCodeInput struct {
	Phone          string
	Channel        string
	ChallengeCode  string
	ValidationCode string
	SecCode        string
}

type userLoginInput struct {
	Phone string
	Code  string
}

type inputErrorResolver struct {
	message string
	code    string
}

func (r *inputErrorResolver) Message() string { return r.message }
func (r *inputErrorResolver) Code() string { return r.code }

type authCodeResultResolver struct {
	success bool
	errs    []*inputErrorResolver
}

func (r *authCodeResultResolver) Success() bool { return r.success }
func (r *authCodeResultResolver) Errors() []*inputErrorResolver { return r.errs }

type userLoginResultResolver struct {
	authToken    *string
	totpRequired bool
	errs         []*inputErrorResolver
}

func (r *userLoginResultResolver) AuthToken() *string { return r.authToken }
func (r *userLoginResultResolver) TotpRequired() bool { return r.totpRequired }
func (r *userLoginResultResolver) Errors() []*inputErrorResolver { return r.errs }

type userResolver struct {
	acct *account
}

func (r *userResolver) ID() graphql.ID { return graphql.ID(r.acct.ID) }
func (r *userResolver) Username() string { return r.acct.Username }
func (r *userResolver) Phone() string { return r.acct.Phone }

// Me resolves the logged-in identity. Without a valid bearer token this is a
// protocol-level error, which is exactly what the production API returns.
func (r *rootResolver) Me(ctx context.Context) (*userResolver, error) {
	accountID, _ := ctx.Value(accountIDKey).(string)
	if accountID == "" {
		return nil, errors.New("not authenticated")
	}
	r.srv.mu.Lock()
	defer r.srv.mu.Unlock()
	acct, ok := r.srv.accounts[accountID]
	if !ok {
		return nil, errors.New("account not found")
	}
	return &userResolver{acct: acct}, nil
}

func (r *rootResolver) CaptchaRequestAuthCode(args struct {
	Input captchaRequestAuthCodeInput
}) (*authCodeResultResolver, error) {
	if args.Input.Phone == "" {
		return &authCodeResultResolver{
			errs: []*inputErrorResolver{{message: "phone is required", code: "INVALID_PHONE"}},
		}, nil
	}

	r.srv.mu.Lock()
	r.srv.pendingCodes[args.Input.Phone] = r.srv.cfg.VerificationCode
	r.srv.mu.Unlock()

	// A real deployment texts the code; the sandbox logs it instead.
	r.srv.log.WithField("phone", args.Input.Phone).
		WithField("code", r.srv.cfg.VerificationCode).
		Info("verification code issued")
	return &authCodeResultResolver{success: true, errs: []*inputErrorResolver{}}, nil
}

func (r *rootResolver) UserLogin(args struct {
	Input userLoginInput
}) (*userLoginResultResolver, error) {
	r.srv.mu.Lock()
	expected, pending := r.srv.pendingCodes[args.Input.Phone]
	if pending && expected == args.Input.Code {
		delete(r.srv.pendingCodes, args.Input.Phone)
	}
	r.srv.mu.Unlock()

	if !pending || expected != args.Input.Code {
		return &userLoginResultResolver{
			errs: []*inputErrorResolver{{message: "invalid or expired code", code: "INVALID_CODE"}},
		}, nil
	}

	acct := r.srv.findOrCreateByPhone(args.Input.Phone)
	token, err := r.srv.tokens.issue(acct.ID, tokenTypeAccess, r.srv.cfg.AccessTokenTTL)
	if err != nil {
		return nil, errors.Wrap(err, "issuing auth token")
	}
	return &userLoginResultResolver{
		authToken: &token,
		errs:      []*inputErrorResolver{},
	}, nil
}
