// Package cause содержит коды причин Q.850 и их трансляцию в коды ответов SIP и обратно.
package cause

import "fmt"

// Code код причины разъединения Q.850 (1..127)
type Code int

// Коды причин, используемые маршрутизатором
const (
	Unallocated             Code = 1
	NoRouteTransitNet       Code = 2
	NoRouteDestination      Code = 3
	NormalClearing          Code = 16
	UserBusy                Code = 17
	NoUserResponding        Code = 18
	NoAnswer                Code = 19
	SubscriberAbsent        Code = 20
	CallRejected            Code = 21
	NumberChanged           Code = 22
	RedirectionToNewDest    Code = 23
	DestinationOutOfOrder   Code = 27
	InvalidNumberFormat     Code = 28
	FacilityRejected        Code = 29
	NormalUnspecified       Code = 31
	NoChannelAvailable      Code = 34
	NetworkOutOfOrder       Code = 38
	TemporaryFailure        Code = 41
	SwitchingCongestion     Code = 42
	ResourceUnavailable     Code = 47
	IncomingBarredInCUG     Code = 55
	BearerNotAuthorized     Code = 57
	BearerNotAvailable      Code = 58
	ServiceNotAvailable     Code = 63
	BearerNotImplemented    Code = 65
	FacilityNotImplemented  Code = 69
	RestrictedBearerOnly    Code = 70
	ServiceNotImplemented   Code = 79
	UserNotMemberOfCUG      Code = 87
	IncompatibleDestination Code = 88
	RecoveryOnTimerExpiry   Code = 102
	InterworkingUnspecified Code = 127
)

var texts = map[Code]string{
	1:   "Unallocated (unassigned) number",
	2:   "No route to specified transit network",
	3:   "No route to destination",
	6:   "Channel unacceptable",
	7:   "Call awarded and being delivered",
	16:  "Normal call clearing",
	17:  "User busy",
	18:  "No user responding",
	19:  "No answer from user (user alerted)",
	20:  "Subscriber absent",
	21:  "Call rejected",
	22:  "Number changed",
	23:  "Redirection to new destination",
	26:  "Non-selected user clearing",
	27:  "Destination out of order",
	28:  "Invalid number format",
	29:  "Facility rejected",
	30:  "Response to STATUS ENQUIRY",
	31:  "Normal, unspecified",
	34:  "No circuit/channel available",
	38:  "Network out of order",
	41:  "Temporary failure",
	42:  "Switching equipment congestion",
	43:  "Access information discarded",
	44:  "Requested circuit/channel not available",
	47:  "Resource unavailable, unspecified",
	49:  "Quality of service unavailable",
	50:  "Requested facility not subscribed",
	55:  "Incoming calls barred within CUG",
	57:  "Bearer capability not authorized",
	58:  "Bearer capability not presently available",
	63:  "Service or option not available, unspecified",
	65:  "Bearer capability not implemented",
	66:  "Channel type not implemented",
	69:  "Requested facility not implemented",
	70:  "Only restricted digital information bearer capability is available",
	79:  "Service or option not implemented, unspecified",
	81:  "Invalid call reference value",
	82:  "Identified channel does not exist",
	87:  "User not member of CUG",
	88:  "Incompatible destination",
	95:  "Invalid message, unspecified",
	96:  "Mandatory information element is missing",
	97:  "Message type non-existent or not implemented",
	100: "Invalid information element contents",
	102: "Recovery on timer expiry",
	111: "Protocol error, unspecified",
	127: "Interworking, unspecified",
}

// Valid сообщает, лежит ли код в диапазоне Q.850
func (c Code) Valid() bool {
	return c >= 1 && c <= 127
}

// Text возвращает текстовое описание причины
func (c Code) Text() string {
	if t, ok := texts[c]; ok {
		return t
	}
	return "Unknown"
}

func (c Code) String() string {
	return fmt.Sprintf("%d (%s)", int(c), c.Text())
}

// Location место возникновения причины
type Location int

const (
	LocationUser          Location = 0
	LocationPrivateLocal  Location = 1
	LocationPublicLocal   Location = 2
	LocationTransit       Location = 3
	LocationPublicRemote  Location = 4
	LocationPrivateRemote Location = 5
	LocationInternational Location = 7
	LocationBeyond        Location = 10
)

func (l Location) String() string {
	switch l {
	case LocationUser:
		return "user"
	case LocationPrivateLocal:
		return "private-local"
	case LocationPublicLocal:
		return "public-local"
	case LocationTransit:
		return "transit"
	case LocationPublicRemote:
		return "public-remote"
	case LocationPrivateRemote:
		return "private-remote"
	case LocationInternational:
		return "international"
	case LocationBeyond:
		return "beyond"
	default:
		return fmt.Sprintf("location(%d)", int(l))
	}
}
