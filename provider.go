package video_fetcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/video-fetcher/generic"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
	ErrUnknownProvider   = errors.New("unknown provider")
)

// Providers are tried in ascending priority order.
var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

type MatchFunc = func(string) (Source, error)

// A Provider recognises the URLs of one site, or one kind of URL, without touching the network.
type Provider struct {
	Name     string
	Match    MatchFunc
	Priority int16
}

func (p Provider) WithPriority(priority int16) Provider {
	p.Priority = priority
	return p
}

// try runs the matcher, treating a nil source as a refusal.
func (p *Provider) try(s string) (*Match, error) {
	source, err := p.Match(s)
	if err != nil {
		return nil, err
	} else if source == nil {
		return nil, ErrNoMatch
	}
	return &Match{ProviderName: p.Name, Source: source}, nil
}

type Match struct {
	ProviderName string
	Source       Source
}

// A Resolution is a Match whose Source has been probed.
type Resolution struct {
	ProviderName string
	Source       ResolvedSource
}

func (r *Resolution) Info() SourceInfo {
	return r.Source.Info()
}

// ProviderRegistry is meant to be filled during init and only read afterwards, so it does no locking.
type ProviderRegistry struct {
	providers []*Provider
}

func (r *ProviderRegistry) find(name string) *Provider {
	for _, p := range r.providers {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Add requires a non-empty unique Name and a Match function.
func (r *ProviderRegistry) Add(p Provider) error {
	switch {
	case p.Name == "" || p.Match == nil:
		return ErrInvalidProvider
	case r.find(p.Name) != nil:
		return fmt.Errorf("%w: %v", ErrDuplicateProvider, p.Name)
	}
	r.providers = append(r.providers, &p)
	r.reorder()
	return nil
}

func (r *ProviderRegistry) MustAdd(p Provider) {
	generic.Unwrap_(r.Add(p))
}

func (r *ProviderRegistry) MustCreatePriority(name string, f MatchFunc, priority int16) {
	r.MustAdd(Provider{Name: name, Match: f, Priority: priority})
}

func (r *ProviderRegistry) SetPriority(name string, priority int16) error {
	p := r.find(name)
	if p == nil {
		return ErrUnknownProvider
	}
	p.Priority = priority
	r.reorder()
	return nil
}

// Equal priorities keep registration order.
func (r *ProviderRegistry) reorder() {
	slices.SortStableFunc(r.providers, func(a, b *Provider) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
}

// List gives provider names in the order Match tries them.
func (r *ProviderRegistry) List() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name
	}
	return names
}

// Match returns the first provider that accepts s. On failure the *UnresolvableSourceError carries every provider's
// reason, prefixed with its name.
func (r *ProviderRegistry) Match(s string) (*Match, error) {
	s = strings.TrimSpace(s)
	var reasons error = ErrNoMatch
	if len(r.providers) > 0 {
		reasons = nil
	}
	for _, p := range r.providers {
		match, err := p.try(s)
		if err == nil {
			return match, nil
		}
		reasons = multierror.Append(reasons, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
	}
	return nil, &UnresolvableSourceError{Input: s, Err: reasons}
}

func (r *ProviderRegistry) MatchWith(name string, s string) (*Match, error) {
	p := r.find(name)
	if p == nil {
		return nil, ErrUnknownProvider
	}
	match, err := p.try(s)
	if err != nil {
		return nil, &UnresolvableSourceError{Input: s, Err: err}
	}
	return match, nil
}

// Resolve is Match followed by Source.Recon. Failure of either step is an *UnresolvableSourceError.
func (r *ProviderRegistry) Resolve(ctx context.Context, s string) (*Resolution, error) {
	match, err := r.Match(s)
	if err != nil {
		return nil, err
	}
	resolved, err := match.Source.Recon(ctx)
	if err != nil {
		return nil, &UnresolvableSourceError{Input: s, Err: fmt.Errorf("[%v] recon failed: %w", match.ProviderName, err)}
	}
	return &Resolution{ProviderName: match.ProviderName, Source: resolved}, nil
}

var DefaultProviderRegistry ProviderRegistry
