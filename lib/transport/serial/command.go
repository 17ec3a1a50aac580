package serial

import "github.com/samber/oops"

// SendData is a FUNC_ID_ZW_SEND_DATA request:
//
//	[destination][payloadLen][payload...][txOptions][callbackID]
type SendData struct {
	Destination NodeID
	Payload     []byte
	TxOptions   byte
	CallbackID  byte
}

// MarshalBinary encodes a complete serial frame
func (s *SendData) MarshalBinary() ([]byte, error) {
	if len(s.Payload) > 0xFF {
		return nil, oops.Wrapf(ErrFrameTooLong, "%d payload bytes", len(s.Payload))
	}
	data := make([]byte, 0, len(s.Payload)+4)
	data = append(data, byte(s.Destination), byte(len(s.Payload)))
	data = append(data, s.Payload...)
	data = append(data, s.TxOptions, s.CallbackID)
	f := Frame{Type: TypeRequest, Function: FuncSendData, Data: data}
	return f.MarshalBinary()
}

// UnmarshalBinary decodes a complete serial frame
func (s *SendData) UnmarshalBinary(b []byte) error {
	var f Frame
	if err := f.UnmarshalBinary(b); err != nil {
		return err
	}
	if f.Function != FuncSendData {
		return oops.Wrapf(ErrUnexpectedFunction, "function 0x%02x", f.Function)
	}
	if len(f.Data) < 4 || int(f.Data[1]) != len(f.Data)-4 {
		return oops.Wrapf(ErrLengthMismatch, "send data payload length")
	}
	s.Destination = NodeID(f.Data[0])
	s.Payload = f.Data[2 : len(f.Data)-2]
	s.TxOptions = f.Data[len(f.Data)-2]
	s.CallbackID = f.Data[len(f.Data)-1]
	return nil
}

// ApplicationCommand is a FUNC_ID_APPLICATION_COMMAND_HANDLER request:
//
//	[rxStatus][source][payloadLen][payload...]
type ApplicationCommand struct {
	RxStatus byte
	Source   NodeID
	Payload  []byte
}

// MarshalBinary encodes a complete serial frame
func (a *ApplicationCommand) MarshalBinary() ([]byte, error) {
	if len(a.Payload) > 0xFF {
		return nil, oops.Wrapf(ErrFrameTooLong, "%d payload bytes", len(a.Payload))
	}
	data := make([]byte, 0, len(a.Payload)+3)
	data = append(data, a.RxStatus, byte(a.Source), byte(len(a.Payload)))
	data = append(data, a.Payload...)
	f := Frame{Type: TypeRequest, Function: FuncApplicationCommandHandler, Data: data}
	return f.MarshalBinary()
}

// UnmarshalBinary decodes a complete serial frame
func (a *ApplicationCommand) UnmarshalBinary(b []byte) error {
	var f Frame
	if err := f.UnmarshalBinary(b); err != nil {
		return err
	}
	if f.Function != FuncApplicationCommandHandler {
		return oops.Wrapf(ErrUnexpectedFunction, "function 0x%02x", f.Function)
	}
	if len(f.Data) < 3 || int(f.Data[2]) > len(f.Data)-3 {
		return oops.Wrapf(ErrLengthMismatch, "application command payload length")
	}
	a.RxStatus = f.Data[0]
	a.Source = NodeID(f.Data[1])
	a.Payload = f.Data[3 : 3+int(f.Data[2])]
	return nil
}
