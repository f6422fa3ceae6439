package cause

// ToSignalCode переводит причину Q.850 в код ответа SIP и его reason phrase.
// Место влияет только на причину 21: от пользователя это 603, иначе 403.
func ToSignalCode(c Code, loc Location) (int, string) {
	switch c {
	case 1, 2, 3:
		return 404, "Not Found"
	case 17:
		return 486, "Busy Here"
	case 18:
		return 408, "Request Timeout"
	case 19, 20:
		return 480, "Temporarily Unavailable"
	case 21:
		if loc == LocationUser {
			return 603, "Decline"
		}
		return 403, "Forbidden"
	case 22, 23:
		return 410, "Gone"
	case 27:
		return 502, "Bad Gateway"
	case 28:
		return 484, "Address Incomplete"
	case 29:
		return 501, "Not Implemented"
	case 31:
		return 480, "Temporarily Unavailable"
	case 34, 38, 41, 42, 47, 58, 88:
		return 503, "Service Unavailable"
	case 55, 57, 87:
		return 403, "Forbidden"
	case 65, 70:
		return 488, "Not Acceptable Here"
	case 69, 79:
		return 501, "Not Implemented"
	case 102:
		return 504, "Gateway Time-out"
	default:
		return 480, "Temporarily Unavailable"
	}
}

// ToCauseCode переводит код ответа SIP в причину Q.850.
// Неизвестные коды дают NormalUnspecified.
func ToCauseCode(status int) Code {
	switch status {
	case 200:
		return NormalClearing
	case 401, 402, 403, 407, 603:
		return CallRejected
	case 404:
		return Unallocated
	case 485, 604:
		return NoRouteDestination
	case 408, 504:
		return RecoveryOnTimerExpiry
	case 410:
		return NumberChanged
	case 413, 414, 416, 420, 421, 423, 505, 513:
		return InterworkingUnspecified
	case 480:
		return NoAnswer
	case 400, 481, 500, 503:
		return TemporaryFailure
	case 486, 600:
		return UserBusy
	case 484:
		return InvalidNumberFormat
	case 488, 606:
		return IncompatibleDestination
	case 502:
		return NetworkOutOfOrder
	case 405:
		return ServiceNotAvailable
	case 406, 415, 501:
		return ServiceNotImplemented
	case 482, 483:
		return 25
	case 487:
		return NormalUnspecified
	default:
		return NormalUnspecified
	}
}
