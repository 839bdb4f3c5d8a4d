package domain

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a one-shot user-visible message (a toast).
type Notice struct {
	Level NoticeLevel
	Text  string
}

func InfoNotice(text string) Notice {
	return Notice{Level: NoticeInfo, Text: text}
}

func ErrorNotice(text string) Notice {
	return Notice{Level: NoticeError, Text: text}
}
