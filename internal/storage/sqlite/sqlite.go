package sqlite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/roomlink/internal/auth"
	"github.com/fenggwsx/roomlink/internal/config"
	"github.com/fenggwsx/roomlink/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db  *gorm.DB
	cfg config.DatabaseConfig
}

type userModel struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:80;uniqueIndex;not null"`
	Password  string `gorm:"not null"`
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

// Room ids are AUTOINCREMENT so a deleted room's id is never handed out again.
type roomModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:100;not null"`
	Description string
	CreatedBy   uint `gorm:"not null"`
	IsPrivate   bool
	CreatedAt   time.Time
}

func (roomModel) TableName() string { return "rooms" }

type messageModel struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    uint   `gorm:"index:idx_messages_room_created,priority:1;not null"`
	UserID    uint   `gorm:"not null"`
	Username  string `gorm:"size:80;not null"`
	Content   string `gorm:"not null"`
	IsFile    bool
	FileURL   string    `gorm:"size:200"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2"`
}

func (messageModel) TableName() string { return "messages" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, cfg: cfg}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates and seeds the admin account and the default
// room.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&userModel{}, &roomModel{}, &messageModel{}); err != nil {
		return err
	}
	owner, err := s.seedAdmin(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	var count int64
	if err := db.Model(&roomModel{}).Where("name = ?", storage.DefaultRoomName).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	general := roomModel{Name: storage.DefaultRoomName, Description: "General chat room", CreatedBy: owner}
	if err := db.Create(&general).Error; err != nil {
		return fmt.Errorf("seed default room: %w", err)
	}
	return nil
}

// seedAdmin creates the configured admin account when it is missing and
// returns its id. Without an admin password nothing is seeded and 1 is
// returned as the default room owner.
func (s *Store) seedAdmin(ctx context.Context) (uint, error) {
	if s.cfg.AdminPassword == "" || s.cfg.AdminUsername == "" {
		return 1, nil
	}
	existing, err := s.GetUserByUsername(ctx, s.cfg.AdminUsername)
	switch {
	case err == nil:
		return existing.ID, nil
	case !errors.Is(err, storage.ErrNotFound):
		return 0, err
	}

	hashed, err := auth.HashPassword(s.cfg.AdminPassword)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	admin := storage.User{
		Username:  s.cfg.AdminUsername,
		Password:  hashed,
		IsAdmin:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(ctx, &admin); err != nil {
		return 0, err
	}
	return admin.ID, nil
}

// CreateUser stores a new user record and fills in its id.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	var existing int64
	if err := s.db.WithContext(ctx).Model(&userModel{}).Where("username = ?", user.Username).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return storage.ErrConflict
	}
	model := userModel{
		Username:  user.Username,
		Password:  user.Password,
		IsAdmin:   user.IsAdmin,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	user.ID = model.ID
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return &storage.User{
		ID:        model.ID,
		Username:  model.Username,
		Password:  model.Password,
		IsAdmin:   model.IsAdmin,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

// CreateRoom stores a new room and fills in its id and creation time.
func (s *Store) CreateRoom(ctx context.Context, room *storage.Room) error {
	if room == nil {
		return errors.New("nil room")
	}
	model := roomModel{
		Name:        room.Name,
		Description: room.Description,
		CreatedBy:   room.CreatedBy,
		IsPrivate:   room.IsPrivate,
		CreatedAt:   room.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	room.ID = model.ID
	room.CreatedAt = model.CreatedAt
	return nil
}

// GetRoom retrieves a room by id.
func (s *Store) GetRoom(ctx context.Context, id uint) (*storage.Room, error) {
	var model roomModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		return nil, translate(err)
	}
	room := toRoom(model)
	return &room, nil
}

// ListRooms returns every room ordered by id.
func (s *Store) ListRooms(ctx context.Context) ([]storage.Room, error) {
	var models []roomModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	return lo.Map(models, func(item roomModel, _ int) storage.Room { return toRoom(item) }), nil
}

// DeleteRoom removes a room together with its messages.
func (s *Store) DeleteRoom(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&messageModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&roomModel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// SaveMessage stores a message and fills in its id and timestamp.
func (s *Store) SaveMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	model := messageModel{
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		IsFile:    msg.IsFile,
		FileURL:   msg.FileURL,
		CreatedAt: msg.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	return nil
}

// ListMessagesByRoom returns the newest limit messages of a room, oldest first.
func (s *Store) ListMessagesByRoom(ctx context.Context, roomID uint, limit int) ([]storage.Message, error) {
	var models []messageModel
	query := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	slices.Reverse(models)
	return lo.Map(models, func(item messageModel, _ int) storage.Message {
		return storage.Message{
			ID:        item.ID,
			RoomID:    item.RoomID,
			UserID:    item.UserID,
			Username:  item.Username,
			Content:   item.Content,
			IsFile:    item.IsFile,
			FileURL:   item.FileURL,
			CreatedAt: item.CreatedAt,
		}
	}), nil
}

func toRoom(model roomModel) storage.Room {
	return storage.Room{
		ID:          model.ID,
		Name:        model.Name,
		Description: model.Description,
		CreatedBy:   model.CreatedBy,
		IsPrivate:   model.IsPrivate,
		CreatedAt:   model.CreatedAt,
	}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}
