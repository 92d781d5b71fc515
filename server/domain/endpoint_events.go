package domain

type endpointEventKind uint8

const (
	// unknown
	unknown endpointEventKind = iota

	// I/O
	evPong       // pong を受信した
	evPingFailed // ping が失敗した
	evReadError  // 読み込みに失敗した (切断)
	evWriteError // 書き込みに失敗した

	// ctrl
	evClose // セッション終了
)

func (k endpointEventKind) String() string {
	switch k {
	case evPong:
		return "pong"
	case evPingFailed:
		return "pingFailed"
	case evReadError:
		return "readError"
	case evWriteError:
		return "writeError"
	case evClose:
		return "close"
	default:
		return "unknown"
	}
}

type endpointEvent struct {
	kind endpointEventKind
	err  error
}
