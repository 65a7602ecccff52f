package ratelimit

import (
	"fmt"
	"time"

	"limitgate/internal/models"
)

// Category classifies an operation's cost and sensitivity for rate limiting
// purposes. Routes pick their category at registration time; it never changes
// per request.
type Category string

const (
	CategoryDefault Category = "default"
	CategoryAI      Category = "ai"
	CategoryAuth    Category = "auth"
	CategoryWrite   Category = "write"
	CategoryUpload  Category = "upload"
	CategoryWebhook Category = "webhook"
	CategoryPublic  Category = "public"
)

// Categories returns every known category. Reset-all iterates this list.
func Categories() []Category {
	return []Category{
		CategoryDefault,
		CategoryAI,
		CategoryAuth,
		CategoryWrite,
		CategoryUpload,
		CategoryWebhook,
		CategoryPublic,
	}
}

// ParseCategory validates a category string from an external source
// (admin API query parameters).
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

// Tier is the caller's subscription class. It is derived from the caller's
// role once per request and never persisted by the limiter.
type Tier string

const (
	TierFree         Tier = "free"
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

func Tiers() []Tier {
	return []Tier{TierFree, TierBasic, TierProfessional, TierEnterprise}
}

// ParseTier validates a tier string from an external source. Unknown values
// are an error rather than a silent fallback.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	for _, known := range Tiers() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier: %q", s)
}

// KeyType selects which identity a category's counter is keyed by.
type KeyType string

const (
	KeyTypeUser     KeyType = "user"       // authenticated user id
	KeyTypeIP       KeyType = "ip"         // forwarded/connection IP
	KeyTypeUserOrIP KeyType = "user_or_ip" // user id when available, IP otherwise
)

// CategoryPolicy is the static windowed-limit policy for one category.
// Policies are defined at process start and read-only thereafter.
type CategoryPolicy struct {
	Category  Category
	Window    time.Duration
	BaseLimit int // limit for the free tier; scaled for others
	KeyType   KeyType
	SkipRoles []string // roles exempt from this category's limiting
	Message   string   // human-readable rejection message
}

// SkipsRole reports whether callers with the given role bypass this policy.
func (p CategoryPolicy) SkipsRole(role string) bool {
	for _, r := range p.SkipRoles {
		if r == role {
			return true
		}
	}
	return false
}

// TierLimits holds the per-tier limit fields. A DailyQuota of 0 means
// unlimited.
type TierLimits struct {
	RequestsPerMinute      int
	AIRequestsPerMinute    int
	WriteRequestsPerMinute int
	DailyQuota             int
}

// defaultCategoryPolicies is the built-in policy table. Auth is deliberately
// tight and keyed by IP so credential stuffing is throttled before login.
func defaultCategoryPolicies() map[Category]CategoryPolicy {
	return map[Category]CategoryPolicy{
		CategoryDefault: {
			Category:  CategoryDefault,
			Window:    time.Minute,
			BaseLimit: 60,
			KeyType:   KeyTypeUserOrIP,
			SkipRoles: []string{"admin", "service"},
			Message:   "Too many requests, please slow down",
		},
		CategoryAI: {
			Category:  CategoryAI,
			Window:    time.Minute,
			BaseLimit: 10,
			KeyType:   KeyTypeUser,
			SkipRoles: []string{"service"},
			Message:   "AI request limit reached, please wait before retrying",
		},
		CategoryAuth: {
			Category:  CategoryAuth,
			Window:    time.Minute,
			BaseLimit: 5,
			KeyType:   KeyTypeIP,
			Message:   "Too many authentication attempts, please try again later",
		},
		CategoryWrite: {
			Category:  CategoryWrite,
			Window:    time.Minute,
			BaseLimit: 30,
			KeyType:   KeyTypeUser,
			SkipRoles: []string{"admin", "service"},
			Message:   "Write request limit reached, please slow down",
		},
		CategoryUpload: {
			Category:  CategoryUpload,
			Window:    time.Minute,
			BaseLimit: 10,
			KeyType:   KeyTypeUser,
			SkipRoles: []string{"admin"},
			Message:   "Upload limit reached, please wait before uploading again",
		},
		CategoryWebhook: {
			Category:  CategoryWebhook,
			Window:    time.Minute,
			BaseLimit: 120,
			KeyType:   KeyTypeIP,
			Message:   "Webhook delivery rate limit exceeded",
		},
		CategoryPublic: {
			Category:  CategoryPublic,
			Window:    time.Minute,
			BaseLimit: 30,
			KeyType:   KeyTypeIP,
			Message:   "Rate limit exceeded for public API",
		},
	}
}

func defaultTierLimits() map[Tier]TierLimits {
	return map[Tier]TierLimits{
		TierFree: {
			RequestsPerMinute:      60,
			AIRequestsPerMinute:    10,
			WriteRequestsPerMinute: 30,
			DailyQuota:             1000,
		},
		TierBasic: {
			RequestsPerMinute:      120,
			AIRequestsPerMinute:    30,
			WriteRequestsPerMinute: 60,
			DailyQuota:             10000,
		},
		TierProfessional: {
			RequestsPerMinute:      300,
			AIRequestsPerMinute:    100,
			WriteRequestsPerMinute: 150,
			DailyQuota:             50000,
		},
		TierEnterprise: {
			RequestsPerMinute:      1000,
			AIRequestsPerMinute:    300,
			WriteRequestsPerMinute: 500,
			DailyQuota:             0, // unlimited
		},
	}
}

// Policies is the read-only policy registry handed to the Limiter at
// construction. All maps are populated once in NewPolicies and never
// mutated afterwards, so concurrent reads need no synchronization.
type Policies struct {
	categories map[Category]CategoryPolicy
	tiers      map[Tier]TierLimits
}

// NewPolicies builds the registry from built-in defaults with per-deployment
// tier overrides merged field-by-field. Nil override fields keep the default.
func NewPolicies(overrides map[string]models.TierOverride) (*Policies, error) {
	tiers := defaultTierLimits()

	for name, override := range overrides {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("invalid tier override: %w", err)
		}

		limits := tiers[tier]
		if override.RequestsPerMinute != nil {
			limits.RequestsPerMinute = *override.RequestsPerMinute
		}
		if override.AIRequestsPerMinute != nil {
			limits.AIRequestsPerMinute = *override.AIRequestsPerMinute
		}
		if override.WriteRequestsPerMinute != nil {
			limits.WriteRequestsPerMinute = *override.WriteRequestsPerMinute
		}
		if override.DailyQuota != nil {
			limits.DailyQuota = *override.DailyQuota
		}
		tiers[tier] = limits
	}

	return &Policies{
		categories: defaultCategoryPolicies(),
		tiers:      tiers,
	}, nil
}

// Category returns the policy for a category.
func (p *Policies) Category(c Category) (CategoryPolicy, bool) {
	policy, ok := p.categories[c]
	return policy, ok
}

// Tier returns the limits for a tier, falling back to the free tier for
// unknown values so an unmapped role never gets elevated limits.
func (p *Policies) Tier(t Tier) TierLimits {
	if limits, ok := p.tiers[t]; ok {
		return limits
	}
	return p.tiers[TierFree]
}

// EffectiveLimit computes the window limit for a (category, tier) pair.
//
// The three categories with dedicated tier fields (ai, write, default) use
// those fields verbatim so operators can tune them precisely. Every other
// category scales its base limit by the ratio of the tier's general
// requests-per-minute to the free tier's, rounded up. This keeps
// "enterprise gets more of everything" without a (category x tier)
// configuration matrix.
//
// The switch is exhaustive over the known categories; adding a category
// without deciding its scaling here returns an error instead of silently
// falling back.
func (p *Policies) EffectiveLimit(c Category, t Tier) (int, error) {
	policy, ok := p.categories[c]
	if !ok {
		return 0, fmt.Errorf("unknown category: %q", c)
	}
	limits := p.Tier(t)

	switch c {
	case CategoryAI:
		return limits.AIRequestsPerMinute, nil
	case CategoryWrite:
		return limits.WriteRequestsPerMinute, nil
	case CategoryDefault:
		return limits.RequestsPerMinute, nil
	case CategoryAuth, CategoryUpload, CategoryWebhook, CategoryPublic:
		free := p.tiers[TierFree].RequestsPerMinute
		if free <= 0 {
			return policy.BaseLimit, nil
		}
		// ceil(base * tierRPM / freeRPM)
		return (policy.BaseLimit*limits.RequestsPerMinute + free - 1) / free, nil
	default:
		return 0, fmt.Errorf("no limit scaling defined for category %q", c)
	}
}
