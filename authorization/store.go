package authorization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"municonsole_back/pagination"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken          = errors.New("authorization: email already exists")
	ErrWeakPassword        = errors.New("authorization: password must be at least 8 characters")
	ErrInvalidDisplayName  = errors.New("authorization: display name cannot be empty")
	ErrInvalidRole         = errors.New("authorization: invalid management role")
	ErrInvalidOrgRole      = errors.New("authorization: invalid organization role")
	ErrInvalidCountryCode  = errors.New("authorization: country code must be two letters")
	ErrStoreNotInitialized = errors.New("authorization: user store not initialized")
)

const minPasswordLength = 8

// UserStore provides data access helpers backed by GORM.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore wraps db. Callers are expected to have migrated User and Membership.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Migrate creates the user and membership tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Membership{}); err != nil {
		return fmt.Errorf("authorization: migrate models: %w", err)
	}
	return nil
}

// HashPassword validates and hashes a plain-text password.
func HashPassword(password string) (string, error) {
	if len(strings.TrimSpace(password)) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("authorization: hash password: %w", err)
	}
	return string(hash), nil
}

// FindByID loads a user by primary key.
func (s *UserStore) FindByID(ctx context.Context, id uint64) (*User, error) {
	if s == nil {
		return nil, ErrStoreNotInitialized
	}
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail loads a user by normalized email.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	if s == nil {
		return nil, ErrStoreNotInitialized
	}
	var user User
	if err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts user, hashing password first.
func (s *UserStore) Create(ctx context.Context, user *User, password string) error {
	if s == nil {
		return ErrStoreNotInitialized
	}
	user.Email = NormalizeEmail(user.Email)
	if user.Email == "" {
		return errors.New("authorization: email is required")
	}
	if !ValidManagementRole(user.ManagementRole) {
		return ErrInvalidRole
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.DisplayName = strings.TrimSpace(user.DisplayName)
	if user.DisplayName == "" {
		user.DisplayName = strings.SplitN(user.Email, "@", 2)[0]
	}
	if user.Status == "" {
		user.Status = UserStatusActive
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("authorization: create user: %w", err)
	}
	return nil
}

// CheckPassword compares password against the stored hash.
func (s *UserStore) CheckPassword(user *User, password string) bool {
	if user == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// TouchLogin records a successful login.
func (s *UserStore) TouchLogin(ctx context.Context, userID uint64) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("last_login_at", now).Error
}

// UpdateProfileParams holds the fields a user may change on their own profile.
type UpdateProfileParams struct {
	DisplayName *string
	Password    *string
}

// UpdateProfile persists profile related fields for the given user id.
func (s *UserStore) UpdateProfile(ctx context.Context, userID uint64, params UpdateProfileParams) (*User, error) {
	if s == nil {
		return nil, ErrStoreNotInitialized
	}

	updates := make(map[string]interface{})
	if params.DisplayName != nil {
		name := strings.TrimSpace(*params.DisplayName)
		if name == "" {
			return nil, ErrInvalidDisplayName
		}
		updates["display_name"] = name
	}
	if params.Password != nil {
		hash, err := HashPassword(*params.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	return s.applyUpdates(ctx, userID, updates)
}

// UpdateMetadata sets the management role and country code of a user.
// Nil fields are left untouched; an empty role clears it.
func (s *UserStore) UpdateMetadata(ctx context.Context, userID uint64, role, countryCode *string) (*User, error) {
	if s == nil {
		return nil, ErrStoreNotInitialized
	}

	updates := make(map[string]interface{})
	if role != nil {
		value := strings.TrimSpace(*role)
		if !ValidManagementRole(value) {
			return nil, ErrInvalidRole
		}
		updates["management_role"] = value
	}
	if countryCode != nil {
		value := strings.ToUpper(strings.TrimSpace(*countryCode))
		if value != "" && !isAlpha2(value) {
			return nil, ErrInvalidCountryCode
		}
		updates["country_code"] = value
	}
	return s.applyUpdates(ctx, userID, updates)
}

func (s *UserStore) applyUpdates(ctx context.Context, userID uint64, updates map[string]interface{}) (*User, error) {
	if len(updates) == 0 {
		return s.FindByID(ctx, userID)
	}
	updates["updated_at"] = time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return s.FindByID(ctx, userID)
}

// List returns users newest first, optionally filtered by management role.
func (s *UserStore) List(ctx context.Context, role string, cursor *pagination.Cursor, limit int) (pagination.Page[User], error) {
	if s == nil {
		return pagination.Page[User]{}, ErrStoreNotInitialized
	}
	query := s.db.WithContext(ctx).Model(&User{})
	if role = strings.TrimSpace(role); role != "" {
		if role == "none" {
			query = query.Where("management_role = ''")
		} else {
			query = query.Where("management_role = ?", role)
		}
	}
	var rows []User
	if err := pagination.Apply(query, "users", cursor, limit).Find(&rows).Error; err != nil {
		return pagination.Page[User]{}, fmt.Errorf("authorization: list users: %w", err)
	}
	return pagination.Build(rows, limit, func(u User) pagination.Cursor {
		return pagination.Cursor{CreatedAt: u.CreatedAt, ID: u.ID}
	}), nil
}

// Delete removes a user and all of their memberships.
func (s *UserStore) Delete(ctx context.Context, userID uint64) error {
	if s == nil {
		return ErrStoreNotInitialized
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&Membership{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", userID).Delete(&User{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// OrgRoles returns municipality id → organization role for userID.
func (s *UserStore) OrgRoles(ctx context.Context, userID uint64) (map[uint64]string, error) {
	if s == nil {
		return nil, ErrStoreNotInitialized
	}
	var memberships []Membership
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("authorization: load memberships: %w", err)
	}
	roles := make(map[uint64]string, len(memberships))
	for _, membership := range memberships {
		roles[membership.MunicipalityID] = membership.Role
	}
	return roles, nil
}

// UpsertMembership grants userID role within municipalityID, replacing any
// previous role there.
func (s *UserStore) UpsertMembership(ctx context.Context, userID, municipalityID uint64, role string) (*Membership, error) {
	if s == nil {
		return nil, ErrStoreNotInitialized
	}
	if !ValidOrgRole(role) {
		return nil, ErrInvalidOrgRole
	}

	var membership Membership
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND municipality_id = ?", userID, municipalityID).
		First(&membership).Error
	switch {
	case err == nil:
		membership.Role = role
		if err := s.db.WithContext(ctx).Save(&membership).Error; err != nil {
			return nil, fmt.Errorf("authorization: update membership: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		membership = Membership{UserID: userID, MunicipalityID: municipalityID, Role: role}
		if err := s.db.WithContext(ctx).Create(&membership).Error; err != nil {
			return nil, fmt.Errorf("authorization: create membership: %w", err)
		}
	default:
		return nil, fmt.Errorf("authorization: load membership: %w", err)
	}
	return &membership, nil
}

// UpdateMembershipRole changes the role of an existing membership.
func (s *UserStore) UpdateMembershipRole(ctx context.Context, userID, municipalityID uint64, role string) error {
	if !ValidOrgRole(role) {
		return ErrInvalidOrgRole
	}
	result := s.db.WithContext(ctx).Model(&Membership{}).
		Where("user_id = ? AND municipality_id = ?", userID, municipalityID).
		Updates(map[string]interface{}{"role": role, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteMembership removes userID from municipalityID.
func (s *UserStore) DeleteMembership(ctx context.Context, userID, municipalityID uint64) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND municipality_id = ?", userID, municipalityID).
		Delete(&Membership{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteMunicipalityMemberships drops every membership of municipalityID.
func (s *UserStore) DeleteMunicipalityMemberships(ctx context.Context, municipalityID uint64) error {
	return s.db.WithContext(ctx).
		Where("municipality_id = ?", municipalityID).
		Delete(&Membership{}).Error
}

// Member is a membership joined with its user.
type Member struct {
	UserID         uint64    `json:"user_id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	ManagementRole string    `json:"management_role"`
	Role           string    `json:"role"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Members lists the users of municipalityID.
func (s *UserStore) Members(ctx context.Context, municipalityID uint64) ([]Member, error) {
	if s == nil {
		return nil, ErrStoreNotInitialized
	}
	var members []Member
	err := s.db.WithContext(ctx).
		Table("memberships").
		Select("users.id AS user_id, users.email, users.display_name, users.management_role, memberships.role, memberships.created_at AS joined_at").
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.municipality_id = ?", municipalityID).
		Order("memberships.created_at ASC").
		Scan(&members).Error
	if err != nil {
		return nil, fmt.Errorf("authorization: list members: %w", err)
	}
	if members == nil {
		members = []Member{}
	}
	return members, nil
}

// EnsureSuperAdmin creates the bootstrap super admin when no user with email
// exists yet. An existing user is left untouched.
func (s *UserStore) EnsureSuperAdmin(ctx context.Context, email, password string) (*User, bool, error) {
	existing, err := s.FindByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	user := &User{Email: email, ManagementRole: RoleSuperAdmin}
	if err := s.Create(ctx, user, password); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func isAlpha2(value string) bool {
	if len(value) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if value[i] < 'A' || value[i] > 'Z' {
			return false
		}
	}
	return true
}
