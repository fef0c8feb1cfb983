package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/go-github/v75/github"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

var _ domain.AuthProvider = (*GithubProvider)(nil)

// GithubProvider implements domain.AuthProvider against the GitHub API:
// a personal access token is exchanged for the authenticated user's
// profile. The redirect dance itself happens outside this process.
type GithubProvider struct {
	mu      sync.RWMutex
	current *domain.Identity
	changes chan *domain.Identity
}

// NewGithubProvider returns a provider with no signed-in user.
func NewGithubProvider() *GithubProvider {
	return &GithubProvider{
		changes: make(chan *domain.Identity, 8),
	}
}

// SignIn validates the token against GitHub and makes its user the
// current identity.
func (p *GithubProvider) SignIn(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	client := github.NewClient(nil).WithAuthToken(token)
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, handleGithubError("fetching the authenticated user", err)
	}

	identity := &domain.Identity{
		UID:         strconv.FormatInt(user.GetID(), 10),
		DisplayName: user.GetName(),
		Email:       user.GetEmail(),
		AvatarURL:   user.GetAvatarURL(),
	}
	if identity.DisplayName == "" {
		identity.DisplayName = user.GetLogin()
	}

	p.mu.Lock()
	p.current = identity
	p.mu.Unlock()
	p.notify(identity)

	log.Info().Str("uid", identity.UID).Str("user", identity.DisplayName).Msg("Signed in")
	return identity, nil
}

// SignOut drops the current identity.
func (p *GithubProvider) SignOut() {
	p.mu.Lock()
	wasSignedIn := p.current != nil
	p.current = nil
	p.mu.Unlock()

	if wasSignedIn {
		p.notify(nil)
		log.Info().Msg("Signed out")
	}
}

// Current returns the signed-in identity, if any.
func (p *GithubProvider) Current() (*domain.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.current != nil
}

// Changes streams identity changes; nil means signed out.
func (p *GithubProvider) Changes() <-chan *domain.Identity {
	return p.changes
}

func (p *GithubProvider) notify(identity *domain.Identity) {
	select {
	case p.changes <- identity:
	default:
		log.Warn().Msg("Auth change dropped: no consumer keeping up")
	}
}

// handleGithubError inspects an error from the go-github client and returns a more informative, structured error.
func handleGithubError(op string, err error) error {
	if err == nil {
		return nil
	}

	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) {
		return fmt.Errorf("github: %s failed with status %d: %s", op, errResp.Response.StatusCode, errResp.Message)
	}

	return fmt.Errorf("github: %s failed: %w", op, err)
}
