package arbiter

type Group uint8

const (
	GroupInvalid              Group = 0
	GroupActivationSettleWait Group = 1
	GroupSendReplyWait        Group = 2
)

func (g Group) String() string {
	switch g {
	case GroupInvalid:
		return "Invalid Group"
	case GroupActivationSettleWait:
		return "Activation Settle Wait"
	case GroupSendReplyWait:
		return "Send Reply Wait"
	default:
		return "Unknown Group"
	}
}
