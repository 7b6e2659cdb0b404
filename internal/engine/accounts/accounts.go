package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/pkg/validator"
	"cloudcompanion/internal/platform/auth"
	"cloudcompanion/internal/platform/config"
	"cloudcompanion/internal/platform/database"
	"cloudcompanion/internal/platform/models"
	"cloudcompanion/internal/platform/repositories"
)

type SignupInput struct {
	InviteKey string `json:"inviteKey" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FullName  string `json:"fullName" validate:"max=120"`
}

type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	User         SessionUser `json:"user"`
}

type Service struct {
	users    *repositories.UserRepository
	roles    *repositories.RoleRepository
	limits   *repositories.LimitsRepository
	invites  *repositories.InviteRepository
	tokens   *auth.TokenService
	defaults config.LimitsConfig
	ttl      time.Duration
	log      zerolog.Logger
}

func NewService(
	users *repositories.UserRepository,
	roles *repositories.RoleRepository,
	limits *repositories.LimitsRepository,
	invites *repositories.InviteRepository,
	tokens *auth.TokenService,
	defaults config.LimitsConfig,
	accessTTL time.Duration,
) *Service {
	return &Service{
		users:    users,
		roles:    roles,
		limits:   limits,
		invites:  invites,
		tokens:   tokens,
		defaults: defaults,
		ttl:      accessTTL,
		log:      logger.WithComponent("accounts"),
	}
}

// Register redeems an invite and creates the account in a single transaction.
// The invite use is taken first with a conditional update, so concurrent redemptions
// of a single-use key cannot both succeed.
func (s *Service) Register(ctx context.Context, in SignupInput) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.InviteKey = strings.TrimSpace(in.InviteKey)
	if err := validator.Struct(in); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "Failed to hash password", err)
	}

	now := time.Now().Unix()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}

	tx, err := s.users.BeginTx(ctx)
	if err != nil {
		return nil, errors.Persistence("Database error", err)
	}
	defer tx.Rollback()

	consumed, err := s.invites.ConsumeTx(ctx, tx, in.InviteKey, user.ID)
	if err != nil {
		return nil, errors.Persistence("Failed to redeem invite key", err)
	}
	if !consumed {
		return nil, errors.InvalidInput("Invalid or expired invite key")
	}

	invite, err := s.invites.GetByKeyTx(ctx, tx, in.InviteKey)
	if err != nil {
		return nil, errors.Persistence("Failed to load invite key", err)
	}

	if err := s.users.CreateTx(ctx, tx, user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errors.Conflict("User already exists")
		}
		return nil, errors.Persistence("Failed to create user", err)
	}

	profile := &models.Profile{ID: user.ID, Email: user.Email, FullName: in.FullName, CreatedAt: now}
	if err := s.users.CreateProfileTx(ctx, tx, profile); err != nil {
		return nil, errors.Persistence("Failed to create profile", err)
	}

	if err := s.roles.SetRoleTx(ctx, tx, user.ID, models.RoleUser); err != nil {
		return nil, errors.Persistence("Failed to assign role", err)
	}

	if err := s.limits.UpsertTx(ctx, tx, s.initialLimits(user.ID, invite)); err != nil {
		return nil, errors.Persistence("Failed to set limits", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Persistence("Database error", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("invite_id", invite.ID).Msg("user registered")
	return s.issue(user, models.RoleUser)
}

func (s *Service) initialLimits(userID string, invite *models.InviteKey) *models.UserLimits {
	l := &models.UserLimits{
		UserID:          userID,
		MaxDroplets:     s.defaults.MaxDroplets,
		AllowedSizes:    s.defaults.AllowedSizes,
		AutoDestroyDays: s.defaults.AutoDestroyDays,
	}
	if invite != nil && invite.PresetLimits != nil {
		l.MaxDroplets = invite.PresetLimits.MaxDroplets
		l.AllowedSizes = invite.PresetLimits.AllowedSizes
		l.AutoDestroyDays = invite.PresetLimits.AutoDestroyDays
	}
	return l
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, errors.Persistence("Database error", err)
	}
	if user == nil {
		return nil, errors.Unauthorized("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.Unauthorized("Invalid credentials")
	}

	role, err := s.roles.GetRole(ctx, user.ID)
	if err != nil {
		return nil, errors.Persistence("Database error", err)
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to stamp last login")
	}
	return s.issue(user, role)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.ValidateToken(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil, errors.Unauthorized("Invalid refresh token")
	}

	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return nil, errors.Persistence("Database error", err)
	}
	if user == nil {
		return nil, errors.Unauthorized("User not found")
	}

	role, err := s.roles.GetRole(ctx, user.ID)
	if err != nil {
		return nil, errors.Persistence("Database error", err)
	}
	return s.issue(user, role)
}

func (s *Service) issue(user *models.User, role string) (*Session, error) {
	access, err := s.tokens.GenerateAccessToken(user.ID, user.Email, role)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "Failed to generate token", err)
	}
	refresh, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "Failed to generate token", err)
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.ttl.Seconds()),
		User:         SessionUser{ID: user.ID, Email: user.Email, Role: role},
	}, nil
}
