package impl

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"keystone/config"
	deliverycontext "keystone/internal/delivery/context"
	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/repository"
	"keystone/internal/domain/service"
	"keystone/internal/errors"
	"keystone/internal/usecase"

	"github.com/google/uuid"
	"go.uber.org/fx"
)

// authService implements the AuthUsecase interface.
type authService struct {
	txManager    repository.TransactionManager
	repos        repository.RepositoryFactory
	verifiers    service.IdentityVerifierRegistry
	cipher       service.SecretCipher
	sessions     usecase.SessionUsecase
	tokenService service.TokenService
	publisher    service.EventPublisher
	metrics      service.AuthMetrics
	trialPeriod  time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// AuthServiceParams holds dependencies for AuthService, injected by Fx.
type AuthServiceParams struct {
	fx.In

	TxManager    repository.TransactionManager
	Repos        repository.RepositoryFactory
	Verifiers    service.IdentityVerifierRegistry
	Cipher       service.SecretCipher
	Sessions     usecase.SessionUsecase
	TokenService service.TokenService
	Publisher    service.EventPublisher
	Metrics      service.AuthMetrics
	Config       *config.Config
	Logger       *slog.Logger
}

// NewAuthService is the constructor for authService.
func NewAuthService(params AuthServiceParams) (usecase.AuthUsecase, error) {
	return newAuthService(params)
}

func newAuthService(params AuthServiceParams) (*authService, error) {
	trialPeriod, err := config.ParseDuration(params.Config.Auth.TrialPeriod)
	if err != nil {
		return nil, errors.Wrap(err, "invalid trial period")
	}
	if len(params.Verifiers) == 0 {
		return nil, errors.New("no identity provider configured")
	}

	return &authService{
		txManager:    params.TxManager,
		repos:        params.Repos,
		verifiers:    params.Verifiers,
		cipher:       params.Cipher,
		sessions:     params.Sessions,
		tokenService: params.TokenService,
		publisher:    params.Publisher,
		metrics:      params.Metrics,
		trialPeriod:  trialPeriod,
		logger:       params.Logger,
		now:          time.Now,
	}, nil
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *authService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// resolvedUser is the outcome of mapping a verified identity to a local account.
type resolvedUser struct {
	user      *entity.User
	link      *entity.IdentityLink
	isNewUser bool
}

// Authenticate signs a user in with a provider credential and opens a session.
func (srv *authService) Authenticate(ctx context.Context, input *usecase.AuthenticateInput) (*usecase.AuthBundle, error) {
	bundle, err := srv.authenticate(ctx, input)
	if err != nil {
		srv.metrics.RecordAuthentication(input.Provider.String(), service.OutcomeFailure)
		srv.log(ctx).Info("Authentication failed",
			slog.String("provider", input.Provider.String()),
			slog.Any("error", err),
		)

		return nil, err
	}
	srv.metrics.RecordAuthentication(input.Provider.String(), service.OutcomeSuccess)

	return bundle, nil
}

func (srv *authService) authenticate(ctx context.Context, input *usecase.AuthenticateInput) (*usecase.AuthBundle, error) {
	verifier, ok := srv.verifiers.Get(input.Provider)
	if !ok {
		return nil, domainerrors.ErrUnsupportedProvider
	}
	if strings.TrimSpace(input.Device.DeviceID) == "" {
		return nil, domainerrors.ErrValidationFailed.WithDetails("deviceId is required")
	}

	identity, providerTokens, err := srv.verifyCredential(ctx, verifier, input)
	if err != nil {
		return nil, err
	}
	encryptedRefreshToken := srv.sealProviderToken(ctx, providerTokens)
	now := srv.now().UTC()

	var resolved *resolvedUser
	err = srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		var err error
		resolved, err = srv.resolveUser(ctx, repoFactory, identity, input, now)
		if err != nil {
			return err
		}

		if err := repoFactory.IdentityRepo().Touch(ctx, resolved.link.ID, now, encryptedRefreshToken); err != nil {
			return errors.Wrap(err, "failed to record identity use")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := srv.sessions.CreateSession(ctx, resolved.user.ID, input.Device)
	if err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := srv.tokenService.IssueAccessToken(resolved.user.ID, resolved.user.Email, resolved.user.SubscriptionTier)
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue access token")
	}

	if resolved.isNewUser {
		publishSecurityEvent(ctx, srv.publisher, srv.log(ctx), now, &service.SecurityEvent{
			Type:       service.SecurityEventNewAccount,
			UserID:     resolved.user.ID.String(),
			SessionID:  created.Session.ID.String(),
			DeviceID:   created.Session.DeviceID,
			Attributes: map[string]string{"provider": input.Provider.String()},
		})
	}

	srv.log(ctx).Info("User authenticated",
		slog.String("provider", input.Provider.String()),
		slog.String("user_id", resolved.user.ID.String()),
		slog.String("session_id", created.Session.ID.String()),
		slog.Bool("is_new_user", resolved.isNewUser),
	)

	return &usecase.AuthBundle{
		User:         resolved.user,
		SessionID:    created.Session.ID,
		AccessToken:  accessToken,
		RefreshToken: created.RefreshToken,
		ExpiresIn:    expiresIn,
		IsNewUser:    resolved.isNewUser,
	}, nil
}

// verifyCredential checks the identity token and, when an authorization code
// was sent to a provider that issues them, redeems it for provider tokens.
func (srv *authService) verifyCredential(
	ctx context.Context,
	verifier service.IdentityVerifier,
	input *usecase.AuthenticateInput,
) (*service.VerifiedIdentity, *service.ProviderTokens, error) {
	if input.IDToken == "" && input.AuthorizationCode == "" {
		return nil, nil, domainerrors.ErrValidationFailed.WithDetails("an identity token or authorization code is required")
	}

	var providerTokens *service.ProviderTokens
	if input.AuthorizationCode != "" {
		exchanger, ok := verifier.(service.AuthorizationExchanger)
		switch {
		case ok:
			tokens, err := exchanger.ExchangeAuthorizationCode(ctx, input.AuthorizationCode)
			if err != nil {
				return nil, nil, err
			}
			providerTokens = tokens
		case input.IDToken == "":
			return nil, nil, domainerrors.ErrValidationFailed.WithDetails("provider does not accept authorization codes")
		}
	}

	idToken := input.IDToken
	if idToken == "" {
		idToken = providerTokens.IDToken
	}
	identity, err := verifier.VerifyIdentity(ctx, idToken)
	if err != nil {
		return nil, nil, err
	}

	// The code must belong to the same provider account as the identity token.
	if providerTokens != nil && input.IDToken != "" && providerTokens.IDToken != "" {
		exchanged, err := verifier.VerifyIdentity(ctx, providerTokens.IDToken)
		if err != nil {
			return nil, nil, err
		}
		if exchanged.Subject != identity.Subject {
			return nil, nil, domainerrors.ErrInvalidCredential.WrapMessage("authorization code issued for another subject")
		}
	}

	return identity, providerTokens, nil
}

// sealProviderToken encrypts the provider refresh token for storage. Failing
// to seal it only costs the later provider-side revocation, so it is logged, not returned.
func (srv *authService) sealProviderToken(ctx context.Context, tokens *service.ProviderTokens) string {
	if tokens == nil || tokens.RefreshToken == "" {
		return ""
	}

	sealed, err := srv.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		srv.log(ctx).Warn("Provider refresh token not stored", slog.Any("error", err))

		return ""
	}

	return sealed
}

// resolveUser maps a verified identity to a local user: an existing link wins,
// then a live account with the same verified email gets a new link, otherwise
// a new account is created.
func (srv *authService) resolveUser(
	ctx context.Context,
	repoFactory repository.RepositoryFactory,
	identity *service.VerifiedIdentity,
	input *usecase.AuthenticateInput,
	now time.Time,
) (*resolvedUser, error) {
	userRepo := repoFactory.UserRepo()
	identityRepo := repoFactory.IdentityRepo()

	link, err := identityRepo.FindByProviderSubject(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		user, err := userRepo.FindByID(ctx, link.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load linked user")
		}
		if user.IsDeleted() {
			return nil, domainerrors.ErrUnauthorized.WrapMessage("account deleted")
		}

		return &resolvedUser{user: user, link: link}, nil
	case !errors.Is(err, repository.ErrIdentityNotFound):
		return nil, errors.Wrap(err, "failed to find identity link")
	}

	// Apple sends the email only on first authorization, so a missing email
	// is fatal only when no link exists yet.
	if identity.Email == "" {
		return nil, domainerrors.ErrInvalidCredential.WrapMessage("identity token carries no email")
	}

	user, err := userRepo.FindByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		if !identity.EmailVerified {
			return nil, domainerrors.ErrEmailNotVerified
		}
		if !user.EmailVerified {
			user.EmailVerified = true
			user.UpdatedAt = now
			if err := userRepo.Update(ctx, user); err != nil {
				return nil, errors.Wrap(err, "failed to mark email verified")
			}
		}
		link, err := srv.createLink(ctx, identityRepo, user, identity, now)
		if err != nil {
			return nil, err
		}
		srv.log(ctx).Info("Linked provider identity to existing user",
			slog.String("provider", identity.Provider.String()),
			slog.String("user_id", user.ID.String()),
		)

		return &resolvedUser{user: user, link: link}, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, errors.Wrap(err, "failed to find user by email")
	}

	user = srv.buildNewUser(identity, input, now)
	if err := userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserEmailTaken) {
			return nil, domainerrors.ErrConflict.WrapMessage("email registered concurrently")
		}

		return nil, errors.Wrap(err, "failed to create user")
	}
	link, err = srv.createLink(ctx, identityRepo, user, identity, now)
	if err != nil {
		return nil, err
	}

	return &resolvedUser{user: user, link: link, isNewUser: true}, nil
}

func (srv *authService) createLink(
	ctx context.Context,
	identityRepo repository.IdentityRepository,
	user *entity.User,
	identity *service.VerifiedIdentity,
	now time.Time,
) (*entity.IdentityLink, error) {
	link := &entity.IdentityLink{
		ID:              uuid.New(),
		UserID:          user.ID,
		Provider:        identity.Provider,
		ProviderSubject: identity.Subject,
		Email:           identity.Email,
		CreatedAt:       now,
		LastUsedAt:      now,
	}
	if err := identityRepo.Create(ctx, link); err != nil {
		if errors.Is(err, repository.ErrIdentityExists) {
			return nil, domainerrors.ErrIdentityAlreadyLinked
		}

		return nil, errors.Wrap(err, "failed to create identity link")
	}

	return link, nil
}

func (srv *authService) buildNewUser(identity *service.VerifiedIdentity, input *usecase.AuthenticateInput, now time.Time) *entity.User {
	name := identity.Name
	if name == "" {
		name = strings.TrimSpace(input.GivenName + " " + input.FamilyName)
	}
	trialEndsAt := now.Add(srv.trialPeriod)

	return &entity.User{
		ID:                 uuid.New(),
		Email:              strings.ToLower(identity.Email),
		EmailVerified:      identity.EmailVerified,
		Name:               name,
		AvatarURL:          identity.AvatarURL,
		SubscriptionTier:   entity.SubscriptionTierTrial,
		SubscriptionStatus: entity.SubscriptionStatusTrialing,
		TrialEndsAt:        &trialEndsAt,
		Settings:           entity.DefaultUserSettings(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Refresh rotates a refresh token presented from deviceID.
func (srv *authService) Refresh(ctx context.Context, input *usecase.RefreshInput) (*usecase.AuthBundle, error) {
	claims, err := srv.tokenService.VerifyRefreshToken(input.RefreshToken)
	if err != nil {
		srv.metrics.RecordRefresh(service.OutcomeFailure)

		return nil, err
	}
	if claims.DeviceID != input.DeviceID {
		srv.metrics.RecordRefresh(service.OutcomeFailure)
		srv.log(ctx).Warn("Refresh requested from a different device",
			slog.String("session_id", claims.SessionID.String()),
		)

		return nil, domainerrors.ErrDeviceMismatch
	}

	out, err := srv.sessions.Rotate(ctx, input.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &usecase.AuthBundle{
		User:         out.User,
		SessionID:    out.Session.ID,
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    out.ExpiresIn,
	}, nil
}

// Logout revokes the sessions selected by input. AllDevices wins over
// SessionID, which wins over DeviceID.
func (srv *authService) Logout(ctx context.Context, userID uuid.UUID, input *usecase.LogoutInput) (*usecase.LogoutOutput, error) {
	var (
		revoked int64
		err     error
	)

	switch {
	case input.AllDevices:
		revoked, err = srv.sessions.RevokeAllForUser(ctx, userID, entity.RevokeReasonLogoutAll)
	case input.SessionID != nil:
		// Scoped to the caller: another user's session id is reported as not found.
		revoked, err = srv.revokeOwnedSession(ctx, userID, *input.SessionID, entity.RevokeReasonLogout)
	case input.DeviceID != "":
		revoked, err = srv.sessions.RevokeAllForDevice(ctx, userID, input.DeviceID, entity.RevokeReasonLogoutDevice)
	default:
		return &usecase.LogoutOutput{}, nil
	}
	if err != nil {
		return nil, err
	}

	srv.log(ctx).Info("User logged out",
		slog.String("user_id", userID.String()),
		slog.Int64("revoked", revoked),
	)

	return &usecase.LogoutOutput{Revoked: revoked}, nil
}

// ListActiveSessions returns the user's live sessions. The most recently
// active one is flagged as current.
func (srv *authService) ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]*entity.SessionInfo, error) {
	sessions, err := srv.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]*entity.SessionInfo, 0, len(sessions))
	for i, s := range sessions {
		info := entity.NewSessionInfo(s)
		info.IsCurrent = i == 0
		infos = append(infos, info)
	}

	return infos, nil
}

// RevokeSession revokes one of the user's own sessions.
func (srv *authService) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	_, err := srv.revokeOwnedSession(ctx, userID, sessionID, entity.RevokeReasonUserRevoked)

	return err
}

// revokeOwnedSession revokes sessionID if it belongs to userID. Sessions of
// other users are reported as not found.
func (srv *authService) revokeOwnedSession(ctx context.Context, userID, sessionID uuid.UUID, reason string) (int64, error) {
	session, err := srv.repos.SessionRepo().FindByID(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return 0, domainerrors.ErrSessionNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to find session")
	}
	if session.UserID != userID {
		return 0, domainerrors.ErrSessionNotFound
	}

	return srv.sessions.Revoke(ctx, sessionID, reason)
}

// DeleteAccount tombstones the user and revokes every session in one
// transaction, then revokes stored provider tokens on a best-effort basis.
func (srv *authService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	now := srv.now().UTC()

	var (
		links   []*entity.IdentityLink
		revoked int64
	)
	err := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		if _, err := repoFactory.UserRepo().FindByID(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return domainerrors.ErrUserNotFound
			}

			return errors.Wrap(err, "failed to find user")
		}

		var err error
		links, err = repoFactory.IdentityRepo().ListByUserID(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "failed to list identity links")
		}

		if err := repoFactory.UserRepo().SoftDelete(ctx, userID, now); err != nil {
			return errors.Wrap(err, "failed to delete user")
		}

		revoked, err = repoFactory.SessionRepo().RevokeByUser(ctx, userID, entity.RevokeReasonAccountDeleted, now)
		if err != nil {
			return errors.Wrap(err, "failed to revoke sessions")
		}

		return nil
	})
	if err != nil {
		srv.log(ctx).Error("Failed to delete account", slog.String("user_id", userID.String()), slog.Any("error", err))

		return err
	}
	srv.metrics.RecordSessionsRevoked(entity.RevokeReasonAccountDeleted, revoked)

	for _, link := range links {
		srv.revokeProviderToken(ctx, link)
	}

	publishSecurityEvent(ctx, srv.publisher, srv.log(ctx), now, &service.SecurityEvent{
		Type:    service.SecurityEventAccountDeleted,
		UserID:  userID.String(),
		Revoked: revoked,
	})

	srv.log(ctx).Info("Account deleted",
		slog.String("user_id", userID.String()),
		slog.Int64("revoked", revoked),
	)

	return nil
}

func (srv *authService) revokeProviderToken(ctx context.Context, link *entity.IdentityLink) {
	if link.EncryptedRefreshToken == "" {
		return
	}
	verifier, ok := srv.verifiers.Get(link.Provider)
	if !ok {
		return
	}
	revoker, ok := verifier.(service.ProviderTokenRevoker)
	if !ok {
		return
	}

	logger := srv.log(ctx).With(slog.String("provider", link.Provider.String()), slog.String("link_id", link.ID.String()))

	refreshToken, err := srv.cipher.Decrypt(link.EncryptedRefreshToken)
	if err != nil {
		logger.Warn("Failed to decrypt provider refresh token", slog.Any("error", err))

		return
	}
	if err := revoker.RevokeProviderToken(ctx, refreshToken); err != nil {
		logger.Warn("Failed to revoke provider refresh token", slog.Any("error", err))
	}
}
