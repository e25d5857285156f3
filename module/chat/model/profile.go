package model

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

const ProfileTableName = "users"

// Profile 用户资料快照，随 user-online / user-offline 一起下发
type Profile struct {
	ID     string `json:"id" bson:"_id" gorm:"primaryKey;size:64"`
	Name   string `json:"name" bson:"name" gorm:"size:128"`
	Role   Role   `json:"role" bson:"role" gorm:"size:16"`
	Avatar string `json:"avatar,omitempty" bson:"avatar,omitempty" gorm:"size:512"`
}

func (Profile) TableName() string { return ProfileTableName }
