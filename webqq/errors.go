package webqq

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrAlreadyOnline         = errors.New("already online")
	ErrLoginInProgress       = errors.New("login in progress")
	ErrNotOnline             = errors.New("not online")
	ErrNotAwaitingVerifyCode = errors.New("not awaiting verify code")
	ErrSendQueueFull         = errors.New("send queue full")
	ErrProtocol              = errors.New("unexpected webqq response")
	ErrWrongPassword         = errors.New("wrong password")
	ErrWrongVerifyCode       = errors.New("wrong verify code")
	ErrLostConnection        = errors.New("lost connection")
	ErrGroupNotFound         = errors.New("group not found")
)

// RetcodeError 服务器返回了非0的 retcode
type RetcodeError struct {
	Api     string
	Retcode int64
}

func (e *RetcodeError) Error() string {
	return fmt.Sprintf("%v: retcode %v", e.Api, e.Retcode)
}

// Stage 出错时所处的阶段
type Stage int

const (
	StageCheck Stage = iota + 1
	StageVerifyImage
	StageVerifyCode
	StageLogin
	StageCheckSig
	StageChannelLogin
	StageChangeStatus
	StagePoll
	StageSendMessage
	StageGroup
)

func (s Stage) String() string {
	switch s {
	case StageCheck:
		return "check"
	case StageVerifyImage:
		return "verify_image"
	case StageVerifyCode:
		return "verify_code"
	case StageLogin:
		return "login"
	case StageCheckSig:
		return "check_sig"
	case StageChannelLogin:
		return "channel_login"
	case StageChangeStatus:
		return "change_status"
	case StagePoll:
		return "poll"
	case StageSendMessage:
		return "send_message"
	case StageGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Reason 出错原因
type Reason int

const (
	ReasonTransport Reason = iota + 1
	ReasonProtocol
	ReasonRetcode
	ReasonWrongPassword
	ReasonWrongVerifyCode
	ReasonSolver
	ReasonLostConnection
)

func (r Reason) String() string {
	switch r {
	case ReasonTransport:
		return "transport"
	case ReasonProtocol:
		return "protocol"
	case ReasonRetcode:
		return "retcode"
	case ReasonWrongPassword:
		return "wrong_password"
	case ReasonWrongVerifyCode:
		return "wrong_verify_code"
	case ReasonSolver:
		return "solver"
	case ReasonLostConnection:
		return "lost_connection"
	default:
		return "unknown"
	}
}

// stageError 带有阶段和原因的错误，用于向订阅者询问是否重试
type stageError struct {
	stage  Stage
	reason Reason
	err    error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%v failed (%v): %v", e.stage, e.reason, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

func newStageError(stage Stage, reason Reason, err error) error {
	return &stageError{stage: stage, reason: reason, err: err}
}
