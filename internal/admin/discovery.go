package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Endpoints are the OAuth endpoints advertised by an OpenID provider.
type Endpoints struct {
	Authorization string
	Token         string
	Userinfo      string
}

type Discoverer interface {
	Discover(ctx context.Context, issuer string) (*Endpoints, error)
}

// OIDCDiscoverer reads /.well-known/openid-configuration through go-oidc.
type OIDCDiscoverer struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewOIDCDiscoverer(httpClient *http.Client, timeout time.Duration) *OIDCDiscoverer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OIDCDiscoverer{httpClient: httpClient, timeout: timeout}
}

func (d *OIDCDiscoverer) Discover(ctx context.Context, issuer string) (*Endpoints, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, d.httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %q: %w", issuer, err)
	}

	var claims struct {
		UserinfoEndpoint string `json:"userinfo_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc discovery for %q: %w", issuer, err)
	}

	ep := provider.Endpoint()
	return &Endpoints{
		Authorization: ep.AuthURL,
		Token:         ep.TokenURL,
		Userinfo:      claims.UserinfoEndpoint,
	}, nil
}
