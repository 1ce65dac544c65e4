package repo

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
	"linkcore.local/internal/app/shortlink"
)

var ErrUserNotFound = errors.New("user not found")
var ErrUserAlreadyExists = errors.New("username already exists")
var ErrInvalidUsername = errors.New("username is not allowed")
var ErrInvalidPassword = errors.New("password is not allowed")
var ErrInvalidCredentials = errors.New("invalid username or password")

const RoleUser = "user"

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
}

// Identity 是短链核心看到的调用方身份（JWT sub）。
func (u User) Identity() shortlink.Identity {
	return shortlink.Identity(strconv.FormatInt(u.ID, 10))
}

// 用户名 3~32，密码 8~72（bcrypt 只看前 72 字节）
func validateCredentials(name, password string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > 32 {
		return "", ErrInvalidUsername
	}
	if len(password) < 8 || len(password) > 72 {
		return "", ErrInvalidPassword
	}
	return name, nil
}

// dummyHash 用户不存在时也做一次 bcrypt 比较，登录耗时不暴露用户是否存在。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("linkcore-dummy-password"), bcrypt.DefaultCost)

func checkPassword(user User, found bool, password string) (User, error) {
	if !found {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

type UsersRepo struct {
	db *pgxpool.Pool
}

func NewUsersRepo(db *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{db: db}
}

func (u *UsersRepo) FindByUsername(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	row := u.db.QueryRow(dbctx, "SELECT id, username, password_hash, role FROM users WHERE username=$1 LIMIT 1", username)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, unavailable(err)
	}
	return user, nil
}

// Register 创建普通用户。管理员账号用 linkctl create-user --role admin 创建。
func (u *UsersRepo) Register(ctx context.Context, name string, password string) (User, error) {
	return u.Create(ctx, name, password, RoleUser)
}

func (u *UsersRepo) Create(ctx context.Context, name, password, role string) (User, error) {
	name, err := validateCredentials(name, password)
	if err != nil {
		return User{}, err
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error(err.Error())
		return User{}, err
	}
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	user := User{Username: name, PasswordHash: string(passwordHash), Role: role}
	if err := u.db.
		QueryRow(dbctx, "INSERT INTO users (username, password_hash, role) VALUES ($1,$2,$3) ON CONFLICT (username) DO NOTHING RETURNING id", name, user.PasswordHash, role).
		Scan(&user.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserAlreadyExists
		}
		return User{}, unavailable(err)
	}
	return user, nil
}

func (u *UsersRepo) Authenticate(ctx context.Context, name, password string) (User, error) {
	user, err := u.FindByUsername(ctx, name)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}
	return checkPassword(user, err == nil, password)
}

// MemoryUsers 配合 MemoryStore 使用。
type MemoryUsers struct {
	mu     sync.Mutex
	byName map[string]User
	nextID int64
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byName: make(map[string]User)}
}

func (m *MemoryUsers) Register(ctx context.Context, name, password string) (User, error) {
	return m.Create(ctx, name, password, RoleUser)
}

func (m *MemoryUsers) Create(_ context.Context, name, password, role string) (User, error) {
	name, err := validateCredentials(name, password)
	if err != nil {
		return User{}, err
	}
	// bcrypt 放在锁外
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[name]; ok {
		return User{}, ErrUserAlreadyExists
	}
	m.nextID++
	user := User{ID: m.nextID, Username: name, PasswordHash: string(hash), Role: role}
	m.byName[name] = user
	return user, nil
}

func (m *MemoryUsers) Authenticate(_ context.Context, name, password string) (User, error) {
	m.mu.Lock()
	user, ok := m.byName[strings.TrimSpace(name)]
	m.mu.Unlock()
	return checkPassword(user, ok, password)
}
