package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/domain/track"
)

// AccessConfig represents the configuration for AccessFilter.
type AccessConfig struct {
	// BlacklistRoles always deny, taking priority over the whitelist.
	BlacklistRoles []string `yaml:"blacklist_roles" mapstructure:"blacklist_roles"`
	// WhitelistRoles, when non-empty, restrict requests to those roles.
	WhitelistRoles []string `yaml:"whitelist_roles" mapstructure:"whitelist_roles"`
}

// AccessFilter enforces role-based blacklist and whitelist rules.
type AccessFilter struct {
	config *AccessConfig
}

// NewAccessFilter creates a new access filter.
func NewAccessFilter() *AccessFilter {
	return &AccessFilter{}
}

func (f *AccessFilter) Name() string {
	return "access_filter"
}

func (f *AccessFilter) Description() string {
	return "Enforces role-based blacklist and whitelist rules"
}

func (f *AccessFilter) ReturnCodes() []string {
	return []string{"blacklisted", "not_whitelisted"}
}

func (f *AccessFilter) ValidateConfig(settings map[string]any) error {
	var config AccessConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("access filter config: %+v", config)
	return nil
}

func (f *AccessFilter) AppliesTo(source track.Source) bool {
	return source == track.SourceUser
}

func (f *AccessFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.config == nil {
		return Accept()
	}
	for _, role := range req.RoleIDs {
		for _, denied := range f.config.BlacklistRoles {
			if role == denied {
				return Reject("blacklisted")
			}
		}
	}
	if len(f.config.WhitelistRoles) > 0 {
		for _, role := range req.RoleIDs {
			for _, allowed := range f.config.WhitelistRoles {
				if role == allowed {
					return Accept()
				}
			}
		}
		return Reject("not_whitelisted")
	}
	return Accept()
}

func init() {
	Register("access_filter", func() Filter {
		return NewAccessFilter()
	})
}
