package webqq

// Status 会话状态
type Status int32

const (
	StatusLoggedOut Status = iota
	StatusLoggingIn
	StatusAwaitingVerifyCode
	StatusLoggedIn
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusLoggedOut:
		return "LoggedOut"
	case StatusLoggingIn:
		return "LoggingIn"
	case StatusAwaitingVerifyCode:
		return "AwaitingVerifyCode"
	case StatusLoggedIn:
		return "LoggedIn"
	case StatusOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// OnlineStatus 对其他人展示的在线状态
type OnlineStatus string

const (
	OnlineStatusOnline  OnlineStatus = "online"
	OnlineStatusAway    OnlineStatus = "away"
	OnlineStatusBusy    OnlineStatus = "busy"
	OnlineStatusSilent  OnlineStatus = "silent"
	OnlineStatusHidden  OnlineStatus = "hidden"
	OnlineStatusCallMe  OnlineStatus = "callme"
	OnlineStatusOffline OnlineStatus = "offline"
)

// ParseOnlineStatus 不认识的值返回 OnlineStatusOnline
func ParseOnlineStatus(s string) OnlineStatus {
	switch st := OnlineStatus(s); st {
	case OnlineStatusOnline, OnlineStatusAway, OnlineStatusBusy, OnlineStatusSilent,
		OnlineStatusHidden, OnlineStatusCallMe, OnlineStatusOffline:
		return st
	default:
		return OnlineStatusOnline
	}
}
