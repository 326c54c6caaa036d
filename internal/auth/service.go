package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
)

const (
	maxUsernameLength   = 64
	maxAvatarSeedLength = 64
)

type Service struct {
	db         *sql.DB
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

type User struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	AvatarSeed *string `json:"avatar_seed"`
}

// Profile is the /me view of a user.
type Profile struct {
	User
	CreatedQuestionsCount int `json:"created_questions_count"`
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		sessionTTL: cfg.SessionTTL,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}
}

func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, fmt.Errorf("%w: username is too long", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password is too long", ErrInvalidInput)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := User{Name: username}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING user_id
	`, username, string(hash)).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		u            User
		avatarSeed   sql.NullString
		passwordHash string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, avatar_seed, password_hash
		FROM users
		WHERE username = $1
		LIMIT 1
	`, username).Scan(&u.ID, &u.Name, &avatarSeed, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if avatarSeed.Valid {
		u.AvatarSeed = &avatarSeed.String
	}
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := s.now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	var (
		u          User
		avatarSeed sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.user_id, u.username, u.avatar_seed
		FROM auth_sessions s
		JOIN users u ON u.user_id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token)).Scan(&u.ID, &u.Name, &avatarSeed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if avatarSeed.Valid {
		u.AvatarSeed = &avatarSeed.String
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Profile loads the user with the number of active questions they created.
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	var (
		p          Profile
		avatarSeed sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.user_id, u.username, u.avatar_seed,
		  (SELECT COUNT(*) FROM questions q WHERE q.created_by = u.user_id AND q.is_active = TRUE)::int
		FROM users u
		WHERE u.user_id = $1
	`, userID).Scan(&p.ID, &p.Name, &avatarSeed, &p.CreatedQuestionsCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	if avatarSeed.Valid {
		p.AvatarSeed = &avatarSeed.String
	}
	return &p, nil
}

// UpdateAvatarSeed stores seed cut to 64 characters. An empty seed clears it.
func (s *Service) UpdateAvatarSeed(ctx context.Context, userID int64, seed string) (*User, error) {
	seed = truncateRunes(strings.TrimSpace(seed), maxAvatarSeedLength)

	var (
		u          User
		avatarSeed sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET avatar_seed = $2
		WHERE user_id = $1
		RETURNING user_id, username, avatar_seed
	`, userID, nullableString(seed)).Scan(&u.ID, &u.Name, &avatarSeed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update avatar seed: %w", err)
	}
	if avatarSeed.Valid {
		u.AvatarSeed = &avatarSeed.String
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
