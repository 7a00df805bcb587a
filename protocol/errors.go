package protocol

import "fmt"

// MismatchError indicates a reply's cmd_echo did not match the command
// that was sent.
type MismatchError struct {
	WantCmd uint32
	GotCmd  uint32
	GotData uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("protocol: reply mismatch: want cmd_echo 0x%X, got 0x%X (data=0x%X)",
		e.WantCmd, e.GotCmd, e.GotData)
}

// RefusedError indicates the device replied with a refusal
// (cmd_echo == RefusalEcho).
type RefusedError struct {
	ErrorCode uint32
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("protocol: device refused command: error code 0x%X", e.ErrorCode)
}

// Expect validates that a parsed reply's cmd_echo matches wantCmd,
// returning *RefusedError or *MismatchError as appropriate.
func Expect(r Reply, wantCmd uint32) error {
	if r.Refused() {
		return &RefusedError{ErrorCode: r.Data}
	}
	if r.CmdEcho != wantCmd {
		return &MismatchError{WantCmd: wantCmd, GotCmd: r.CmdEcho, GotData: r.Data}
	}
	return nil
}
