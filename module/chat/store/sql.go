package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CareLink/module/chat/model"
	"CareLink/tools/errs"
	"CareLink/tools/ids"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type conversationRow struct {
	ID          string `gorm:"primaryKey;size:32"`
	PairKey     string `gorm:"size:160;not null;uniqueIndex"`
	UserA       string `gorm:"size:64;not null;index"` // 较小的 id
	UserB       string `gorm:"size:64;not null;index"`
	UnreadA     int64  `gorm:"not null;default:0"`
	UnreadB     int64  `gorm:"not null;default:0"`
	LastContent string `gorm:"type:text"`
	LastSender  string `gorm:"size:64"`
	LastType    string `gorm:"size:16"`
	LastAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (conversationRow) TableName() string { return model.ConversationTableName }

func (r *conversationRow) toModel() *model.Conversation {
	c := &model.Conversation{
		ID:           r.ID,
		Participants: []string{r.UserA, r.UserB},
		PairKey:      r.PairKey,
		Unread:       map[string]int64{r.UserA: r.UnreadA, r.UserB: r.UnreadB},
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastAt != nil {
		c.LastMessage = &model.LastMessage{
			Content:   r.LastContent,
			SenderID:  r.LastSender,
			Type:      model.MessageType(r.LastType),
			Timestamp: *r.LastAt,
		}
	}
	return c
}

type messageRow struct {
	ID             string `gorm:"primaryKey;size:32"`
	ConversationID string `gorm:"size:32;not null;index:idx_msg_conv_time,priority:1"`
	SenderID       string `gorm:"size:64;not null"`
	RecipientID    string `gorm:"size:64;not null;index"`
	Content        string `gorm:"type:text"`
	Type           string `gorm:"size:16;not null"`
	FileURL        string `gorm:"size:1024"`
	FileName       string `gorm:"size:255"`
	FileSize       int64
	IsRead         bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"index:idx_msg_conv_time,priority:2"`
}

func (messageRow) TableName() string { return model.MessageTableName }

func messageToRow(m *model.Message) *messageRow {
	return &messageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Type:           string(m.Type),
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		FileSize:       m.FileSize,
		IsRead:         m.Read,
		CreatedAt:      m.CreatedAt,
	}
}

func (r *messageRow) toModel() *model.Message {
	return &model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		RecipientID:    r.RecipientID,
		Content:        r.Content,
		Type:           model.MessageType(r.Type),
		FileURL:        r.FileURL,
		FileName:       r.FileName,
		FileSize:       r.FileSize,
		Read:           r.IsRead,
		CreatedAt:      r.CreatedAt,
	}
}

type notificationRow struct {
	ID          string `gorm:"primaryKey;size:32"`
	RecipientID string `gorm:"size:64;not null;index"`
	SenderID    string `gorm:"size:64"`
	Type        string `gorm:"size:32;not null"`
	Title       string `gorm:"size:255"`
	Body        string `gorm:"type:text"`
	Data        string `gorm:"type:text"` // JSON
	IsRead      bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

func (notificationRow) TableName() string { return model.NotificationTableName }

// AllModels returns every table the SQL backend migrates.
func AllModels() []interface{} {
	return []interface{}{
		&model.Profile{},
		&model.Appointment{},
		&conversationRow{},
		&messageRow{},
		&notificationRow{},
	}
}

// OpenSQL opens a GORM connection for driver sqlite or mysql.
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	return db, nil
}

// SQL 基于 gorm 的实现
type SQL struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*SQL)(nil)

// NewSQL 迁移表结构后返回
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("store: auto-migrate: %w", err)
	}
	return &SQL{db: db, now: time.Now}, nil
}

func sqlNotFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrRecordNotFound.WrapMsg(what, "id", id)
	}
	return errs.WrapMsg(err, "sql find "+what, "id", id)
}

func (s *SQL) GetUser(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&p).Error; err != nil {
		return nil, sqlNotFound(err, "user", userID)
	}
	return &p, nil
}

func (s *SQL) SaveUser(ctx context.Context, p model.Profile) error {
	return errs.Wrap(s.db.WithContext(ctx).Save(&p).Error)
}

func (s *SQL) GetAppointment(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	var a model.Appointment
	if err := s.db.WithContext(ctx).Where("id = ?", appointmentID).Take(&a).Error; err != nil {
		return nil, sqlNotFound(err, "appointment", appointmentID)
	}
	return &a, nil
}

func (s *SQL) SaveAppointment(ctx context.Context, a model.Appointment) error {
	return errs.Wrap(s.db.WithContext(ctx).Save(&a).Error)
}

// FindOrCreateConversation 插入时在 pair_key 唯一索引上冲突则什么都不做，然后回读
func (s *SQL) FindOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	key, pair := model.PairKey(a, b)
	db := s.db.WithContext(ctx)

	var row conversationRow
	err := db.Where("pair_key = ?", key).Take(&row).Error
	if err == nil {
		return row.toModel(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.WrapMsg(err, "find conversation", "pair", key)
	}

	now := s.now()
	fresh := conversationRow{
		ID:        ids.GenerateString(),
		PairKey:   key,
		UserA:     pair[0],
		UserB:     pair[1],
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, errs.WrapMsg(err, "create conversation", "pair", key)
	}

	row = conversationRow{}
	if err := db.Where("pair_key = ?", key).Take(&row).Error; err != nil {
		return nil, errs.WrapMsg(err, "reload conversation", "pair", key)
	}
	return row.toModel(), nil
}

func (s *SQL) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).Where("id = ?", conversationID).Take(&row).Error; err != nil {
		return nil, sqlNotFound(err, "conversation", conversationID)
	}
	return row.toModel(), nil
}

// ApplyMessage 单条 UPDATE 完成摘要替换和未读 +1
func (s *SQL) ApplyMessage(ctx context.Context, conversationID string, last *model.LastMessage, recipientID string) error {
	updates := map[string]any{
		"unread_a":   gorm.Expr("CASE WHEN user_a = ? THEN unread_a + 1 ELSE unread_a END", recipientID),
		"unread_b":   gorm.Expr("CASE WHEN user_b = ? THEN unread_b + 1 ELSE unread_b END", recipientID),
		"updated_at": s.now(),
	}
	if last != nil {
		at := last.Timestamp
		updates["last_content"] = last.Content
		updates["last_sender"] = last.SenderID
		updates["last_type"] = string(last.Type)
		updates["last_at"] = &at
	}
	res := s.db.WithContext(ctx).Model(&conversationRow{}).
		Where("id = ? AND (user_a = ? OR user_b = ?)", conversationID, recipientID, recipientID).
		Updates(updates)
	if res.Error != nil {
		return errs.WrapMsg(res.Error, "apply message", "conversation", conversationID)
	}
	if res.RowsAffected == 0 {
		return errs.ErrRecordNotFound.WrapMsg("conversation", "id", conversationID, "recipient", recipientID)
	}
	return nil
}

func (s *SQL) ResetUnread(ctx context.Context, conversationID, userID string) error {
	err := s.db.WithContext(ctx).Model(&conversationRow{}).
		Where("id = ? AND (user_a = ? OR user_b = ?)", conversationID, userID, userID).
		Updates(map[string]any{
			"unread_a":   gorm.Expr("CASE WHEN user_a = ? THEN 0 ELSE unread_a END", userID),
			"unread_b":   gorm.Expr("CASE WHEN user_b = ? THEN 0 ELSE unread_b END", userID),
			"updated_at": s.now(),
		}).Error
	return errs.WrapMsg(err, "reset unread", "conversation", conversationID)
}

func (s *SQL) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := s.db.WithContext(ctx).Create(messageToRow(msg)).Error; err != nil {
		return errs.WrapMsg(err, "insert message", "conversation", msg.ConversationID)
	}
	return nil
}

func (s *SQL) MarkMessagesRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("conversation_id = ? AND recipient_id = ? AND is_read = ?", conversationID, recipientID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errs.WrapMsg(res.Error, "mark messages read", "conversation", conversationID)
	}
	return res.RowsAffected, nil
}

func (s *SQL) ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	var rows []messageRow
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(listLimit(limit)).
		Find(&rows).Error; err != nil {
		return nil, errs.WrapMsg(err, "list messages", "conversation", conversationID)
	}
	out := make([]*model.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQL) CreateNotification(ctx context.Context, n *model.Notification) error {
	data := ""
	if len(n.Data) > 0 {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return errs.WrapMsg(err, "marshal notification data")
		}
		data = string(b)
	}
	row := notificationRow{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		SenderID:    n.SenderID,
		Type:        string(n.Type),
		Title:       n.Title,
		Body:        n.Body,
		Data:        data,
		IsRead:      n.Read,
		CreatedAt:   n.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errs.WrapMsg(err, "insert notification", "recipient", n.RecipientID)
	}
	return nil
}

// CountNotifications 测试和运维脚本使用
func (s *SQL) CountNotifications(ctx context.Context, recipientID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&notificationRow{}).Where("recipient_id = ?", recipientID).Count(&n).Error
	return n, errs.Wrap(err)
}

func (s *SQL) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.WrapMsg(err, "sql ping")
	}
	return nil
}

func (s *SQL) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
