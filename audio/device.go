package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

// FindDevice returns the device whose name matches name exactly, or else
// the only device whose name contains it (case-insensitive).
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	var match *DeviceInfo
	needle := strings.ToLower(name)
	for i := range devices {
		if !strings.Contains(strings.ToLower(devices[i].Name), needle) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("device name %q is ambiguous: %q, %q", name, match.Name, devices[i].Name)
		}
		match = &devices[i]
	}
	if match == nil {
		return nil, fmt.Errorf("no capture device named %q", name)
	}
	return match, nil
}

// SelectDevice lets the user pick a device on the terminal. A single device
// is returned without prompting, and the first one when stdin is not a
// terminal. The list is drawn on stderr so stdout stays clean.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.New("no capture devices found")
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &devices[0], nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	idx, err := runPicker(os.Stdin, os.Stderr, devices)
	if err != nil {
		return nil, err
	}
	return &devices[idx], nil
}

type pickerKey int

const (
	keyNone pickerKey = iota
	keyUp
	keyDown
	keyEnter
	keyCancel
)

// decodeKey maps one raw-mode read to a picker key.
func decodeKey(b []byte) pickerKey {
	switch {
	case len(b) == 1:
		switch b[0] {
		case '\r', '\n':
			return keyEnter
		case 3, 'q', 0x1b: // Ctrl+C, q, bare Esc
			return keyCancel
		case 'j':
			return keyDown
		case 'k':
			return keyUp
		}
	case len(b) == 3 && b[0] == 0x1b && b[1] == '[':
		switch b[2] {
		case 'A':
			return keyUp
		case 'B':
			return keyDown
		}
	}
	return keyNone
}

func runPicker(in io.Reader, out io.Writer, devices []DeviceInfo) (int, error) {
	cursor := 0
	render := func() {
		fmt.Fprint(out, "\r\x1b[J")
		fmt.Fprint(out, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			tag := ""
			if IsBluetooth(d.Name) {
				tag = " \x1b[33m[⚠ Bluetooth: narrowband audio]\x1b[0m"
			}
			if i == cursor {
				fmt.Fprintf(out, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
			} else {
				fmt.Fprintf(out, "    %s%s\r\n", d.Name, tag)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, ErrSelectionCancelled
			}
			return 0, fmt.Errorf("reading input: %w", err)
		}
		switch decodeKey(buf[:n]) {
		case keyEnter:
			fmt.Fprint(out, "\r\n")
			return cursor, nil
		case keyCancel:
			fmt.Fprint(out, "\r\n")
			return 0, ErrSelectionCancelled
		case keyUp:
			cursor = max(cursor-1, 0)
		case keyDown:
			cursor = min(cursor+1, len(devices)-1)
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		render()
	}
}
