package hpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

const tokenPath = apiPrefix + "/jwt"

// remoteClaims 远端签发的 JWT 中我们关心的字段
type remoteClaims struct {
	UID      int64    `json:"uid"`
	WallTime []string `json:"wallTime,omitempty"`
	jwt.RegisteredClaims
}

// Identity authenticates accounts with the resource-owner password grant.
type Identity struct {
	clientID string
	http     *http.Client
}

func NewIdentity(clientID string, httpClient *http.Client) *Identity {
	return &Identity{clientID: clientID, http: httpClient}
}

func (i *Identity) oauthConfig(account *model.AccountProfile) *oauth2.Config {
	return &oauth2.Config{
		ClientID: i.clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  account.BaseURL() + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (i *Identity) Authenticate(ctx context.Context, account *model.AccountProfile) (*token.Token, error) {
	if i.http != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, i.http)
	}

	t, err := i.oauthConfig(account).PasswordCredentialsToken(ctx, account.Username, account.Password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, hpcerr.Authentication("authenticate", err)
		}
		// 端点不可达同样视为认证失败，由调用方记录
		return nil, hpcerr.Authentication("authenticate", fmt.Errorf("identity endpoint unreachable: %w", err))
	}

	tok := &token.Token{Value: t.AccessToken}
	parseClaims(tok)
	return tok, nil
}

// parseClaims reads uid and wallTime from the access token without verifying
// the signature. The token is only ever sent back to the issuer.
func parseClaims(tok *token.Token) {
	claims := &remoteClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.Value, claims); err != nil {
		return
	}
	tok.RemoteUserID = claims.UID
	tok.WallTimes = claims.WallTime
}
