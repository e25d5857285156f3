package model

import "time"

const AppointmentTableName = "appointments"

// Appointment 预约，网关只读，用于 join-appointment 鉴权
type Appointment struct {
	ID        string    `json:"id" bson:"_id" gorm:"primaryKey;size:64"`
	PatientID string    `json:"patientId" bson:"patient_id" gorm:"size:64;index"`
	DoctorID  string    `json:"doctorId" bson:"doctor_id" gorm:"size:64;index"`
	Time      time.Time `json:"time" bson:"time"`
	Status    string    `json:"status" bson:"status" gorm:"size:32"` // scheduled / completed / cancelled
}

func (Appointment) TableName() string { return AppointmentTableName }

// HasParticipant 只有病人和医生本人可以进入信令房间
func (a *Appointment) HasParticipant(userID string) bool {
	return userID != "" && (a.PatientID == userID || a.DoctorID == userID)
}
