package auth

import "strconv"

// StatusCode 为返回给客户端的登录结果。数值为线上协议的一部分，不得重新编号。
type StatusCode int32

const (
	StatusSuccess                     StatusCode = 200
	StatusIncorrectUsernameOrPassword StatusCode = 403
	StatusAccountBanned               StatusCode = 411
	StatusEmailNotVerified            StatusCode = 412
	StatusAccountArchived             StatusCode = 413
	StatusPasswordExpired             StatusCode = 414
	StatusVersionMismatch             StatusCode = 426
	StatusInternalError               StatusCode = 500
	StatusServiceUnavailable          StatusCode = 503
)

var statusNames = map[StatusCode]string{
	StatusSuccess:                     "Success",
	StatusIncorrectUsernameOrPassword: "IncorrectUsernameOrPassword",
	StatusAccountBanned:               "AccountBanned",
	StatusEmailNotVerified:            "EmailNotVerified",
	StatusAccountArchived:             "AccountArchived",
	StatusPasswordExpired:             "PasswordExpired",
	StatusVersionMismatch:             "VersionMismatch",
	StatusInternalError:               "InternalError",
	StatusServiceUnavailable:          "ServiceUnavailable",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "StatusCode(" + strconv.Itoa(int(s)) + ")"
}

// OK 报告登录是否成功。
func (s StatusCode) OK() bool {
	return s == StatusSuccess
}
