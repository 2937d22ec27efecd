package message

// Performative is the speech-act label of a message.
type Performative string

// Performatives understood by the engine and the bundled activities.
const (
	AcceptProposal  Performative = "AcceptProposal"
	Agree           Performative = "Agree"
	Cancel          Performative = "Cancel"
	CallForProposal Performative = "CallForProposal"
	Confirm         Performative = "Confirm"
	Disconfirm      Performative = "Disconfirm"
	Failure         Performative = "Failure"
	Inform          Performative = "Inform"
	InformIf        Performative = "InformIf"
	InformRef       Performative = "InformRef"
	NotUnderstood   Performative = "NotUnderstood"
	Propagate       Performative = "Propagate"
	Propose         Performative = "Propose"
	Proxy           Performative = "Proxy"
	QueryIf         Performative = "QueryIf"
	QueryRef        Performative = "QueryRef"
	Refuse          Performative = "Refuse"
	RejectProposal  Performative = "RejectProposal"
	Request         Performative = "Request"
	RequestWhen     Performative = "RequestWhen"
	RequestWhenever Performative = "RequestWhenever"
	Subscribe       Performative = "Subscribe"
)

var knownPerformatives = map[Performative]struct{}{
	AcceptProposal: {}, Agree: {}, Cancel: {}, CallForProposal: {},
	Confirm: {}, Disconfirm: {}, Failure: {}, Inform: {}, InformIf: {},
	InformRef: {}, NotUnderstood: {}, Propagate: {}, Propose: {}, Proxy: {},
	QueryIf: {}, QueryRef: {}, Refuse: {}, RejectProposal: {}, Request: {},
	RequestWhen: {}, RequestWhenever: {}, Subscribe: {},
}

// IsKnown reports whether p is one of the predefined performatives.
func (p Performative) IsKnown() bool {
	_, ok := knownPerformatives[p]
	return ok
}

func (p Performative) String() string {
	return string(p)
}
