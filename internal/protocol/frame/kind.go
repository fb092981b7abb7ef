package frame

import "strconv"

// Kind selects the handler for a message.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindExtensionInit is the worker's zero-payload ready signal.
	KindExtensionInit
	KindChannel
	KindEvent
	KindEvalJS
	KindEvalJSResult
	KindScroll
	KindPageCreated
	KindLog
	KindCrash
	KindRequireModule

	kindCount
)

var kindNames = [...]string{
	KindInvalid:       "invalid",
	KindExtensionInit: "extension_init",
	KindChannel:       "channel",
	KindEvent:         "event",
	KindEvalJS:        "eval_js",
	KindEvalJSResult:  "eval_js_result",
	KindScroll:        "scroll",
	KindPageCreated:   "page_created",
	KindLog:           "log",
	KindCrash:         "crash",
	KindRequireModule: "require_module",
}

func (k Kind) Valid() bool {
	return k > KindInvalid && k < kindCount
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k := KindExtensionInit; k < kindCount; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return KindInvalid, false
}
