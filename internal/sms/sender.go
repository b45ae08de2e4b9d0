package sms

import "log/slog"

// Sender delivers one-time login codes to a phone number.
type Sender interface {
	SendOTP(phone, code string) error
}

// LogSender writes the code to the structured log instead of sending an SMS.
// This is the stand-in delivery channel used until a provider is wired in.
type LogSender struct{}

func (LogSender) SendOTP(phone, code string) error {
	slog.Info("otp_issued", "phone", maskPhone(phone), "code", code)
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "******" + phone[len(phone)-4:]
}
