package actions

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"cloudcompanion/internal/platform/models"
)

//go:embed model.conf
var guardModel string

//go:embed policy.csv
var guardPolicy string

// Guard decides whether a role may invoke an action. Unknown roles are denied.
type Guard struct {
	enforcer *casbin.SyncedEnforcer
}

func NewGuard() (*Guard, error) {
	m, err := model.NewModelFromString(guardModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load guard model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard enforcer: %w", err)
	}

	for _, line := range strings.Split(guardPolicy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) == 3:
			_, err = enforcer.AddPolicy(parts[1], parts[2])
		case parts[0] == "g" && len(parts) == 3:
			_, err = enforcer.AddGroupingPolicy(parts[1], parts[2])
		default:
			err = fmt.Errorf("malformed rule %q", line)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load guard policy: %w", err)
		}
	}

	return &Guard{enforcer: enforcer}, nil
}

// Allow reports whether caller may run action. A nil caller is always denied.
func (g *Guard) Allow(caller *models.Caller, action string) bool {
	if caller == nil || caller.UserID == "" {
		return false
	}
	role := caller.Role
	if role == "" {
		role = models.RoleUser
	}
	ok, err := g.enforcer.Enforce(role, action)
	return err == nil && ok
}
