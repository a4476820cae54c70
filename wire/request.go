package wire

import (
	"fmt"
	"strings"
)

// Mode is the transfer direction announced by the initiator.
type Mode string

const (
	// ModeUpload pushes a file from initiator to responder.
	ModeUpload Mode = "upload"
	// ModeDownload pulls a file from responder to initiator.
	ModeDownload Mode = "download"
)

// ParseMode converts a mode string, rejecting anything but "upload" or "download".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUpload, ModeDownload:
		return Mode(s), nil
	default:
		return "", &FrameError{Kind: FrameErrorMode, Field: "mode", Msg: fmt.Sprintf("unknown mode %q", s)}
	}
}

// Field names used in errors and logs.
const (
	FieldMode         = "mode"
	FieldFilename     = "filename"
	FieldDeclaredSize = "declared_size"
	FieldLocalOffset  = "local_offset"
	FieldAgreedOffset = "agreed_offset"
	FieldFileSize     = "file_size"
	FieldServerOffset = "server_offset"
)

// Request is the transfer request sent once per connection by the initiator.
type Request struct {
	Mode     Mode
	Filename string
	// Value is the declared file size for uploads and the initiator's
	// local length for downloads.
	Value uint64
}

// valueField names the third request field for the request's mode.
func (r *Request) valueField() string {
	if r.Mode == ModeUpload {
		return FieldDeclaredSize
	}
	return FieldLocalOffset
}

// CheckName validates a filename as it travels on the wire.
// It does not decide where the file lives; responders map it under their root.
func CheckName(name string) error {
	switch {
	case name == "":
		return &FrameError{Kind: FrameErrorEmpty, Field: FieldFilename, Msg: "empty filename"}
	case strings.ContainsRune(name, 0):
		return &FrameError{Kind: FrameErrorName, Field: FieldFilename, Msg: "filename contains NUL"}
	}
	return nil
}

// WriteRequest sends mode, filename and the mode-specific value (steps 1-5).
// Invokes step, if non-nil, after each stage so callers can track state.
func (e *Encoder) WriteRequest(req *Request, step func(field string)) error {
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return err
	}
	if err := CheckName(req.Filename); err != nil {
		return err
	}
	if err := e.WriteField(FieldMode, []byte(req.Mode)); err != nil {
		return err
	}
	notify(step, FieldMode)
	if err := e.WriteField(FieldFilename, []byte(req.Filename)); err != nil {
		return err
	}
	notify(step, FieldFilename)
	if err := e.WriteUint64(req.valueField(), req.Value); err != nil {
		return err
	}
	notify(step, req.valueField())
	return nil
}

// ReadRequest parses a request, enforcing the decoder's limits.
func (d *Decoder) ReadRequest(step func(field string)) (*Request, error) {
	rawMode, err := d.ReadField(FieldMode, d.limits.MaxModeLen)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(string(rawMode))
	if err != nil {
		return nil, err
	}
	notify(step, FieldMode)

	rawName, err := d.ReadField(FieldFilename, d.limits.MaxFilenameLen)
	if err != nil {
		return nil, err
	}
	req := &Request{Mode: mode, Filename: string(rawName)}
	if err := CheckName(req.Filename); err != nil {
		return nil, err
	}
	notify(step, FieldFilename)

	req.Value, err = d.ReadUint64(req.valueField())
	if err != nil {
		return nil, err
	}
	notify(step, req.valueField())
	return req, nil
}

// WriteUploadReply sends the agreed offset (step 6a).
func (e *Encoder) WriteUploadReply(agreed uint64) error {
	return e.WriteUint64(FieldAgreedOffset, agreed)
}

// ReadUploadReply reads the agreed offset and validates it against the declared size.
func (d *Decoder) ReadUploadReply(declared uint64) (uint64, error) {
	agreed, err := d.ReadUint64(FieldAgreedOffset)
	if err != nil {
		return 0, err
	}
	if err := ValidateOffset(FieldAgreedOffset, agreed, declared); err != nil {
		return 0, err
	}
	return agreed, nil
}

// WriteDownloadReply sends file size and server offset (step 6b).
func (e *Encoder) WriteDownloadReply(size, offset uint64) error {
	if err := e.WriteUint64(FieldFileSize, size); err != nil {
		return err
	}
	return e.WriteUint64(FieldServerOffset, offset)
}

// ReadDownloadReply reads file size and server offset, rejecting offset > size.
func (d *Decoder) ReadDownloadReply() (size, offset uint64, err error) {
	size, err = d.ReadUint64(FieldFileSize)
	if err != nil {
		return 0, 0, err
	}
	offset, err = d.ReadUint64(FieldServerOffset)
	if err != nil {
		return 0, 0, err
	}
	if err := ValidateOffset(FieldServerOffset, offset, size); err != nil {
		return 0, 0, err
	}
	return size, offset, nil
}

func notify(step func(string), field string) {
	if step != nil {
		step(field)
	}
}
