package coordinator

import "time"

const (
	msgSubscribed   = "Тепер ви отримуватимете сповіщення щодо наявності світла!"
	msgUnsubscribed = "Сповіщення вимкнені!"
	msgPowered      = "Світло є."
)

func outageStartMessage(t time.Time) string {
	return "❗ Електропостачання припинено о " + t.Format("15:04") + "!"
}

func outageEndMessage(t time.Time) string {
	return "⭐ Електропостачання відновлено о " + t.Format("15:04") + "!"
}

func outageStatusMessage(since time.Time) string {
	return "Світла немає з " + since.Format("15:04") + "."
}
