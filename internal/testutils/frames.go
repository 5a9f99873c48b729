//go:build test

package testutils

import "encoding/binary"

// HCICommand splits an HCI command packet into its OCF and parameters.
func HCICommand(pkt []byte) (ocf uint16, params []byte, ok bool) {
	if len(pkt) < 4 || pkt[0] != 0x01 {
		return 0, nil, false
	}
	opcode := binary.LittleEndian.Uint16(pkt[1:3])
	return opcode & 0x03FF, pkt[4:], true
}

// HCICommandComplete builds the Command Complete event answering opcode.
func HCICommandComplete(opcode uint16, status byte, data ...byte) []byte {
	body := []byte{0x01, byte(opcode), byte(opcode >> 8), status}
	body = append(body, data...)
	return append([]byte{0x04, 0x0E, byte(len(body))}, body...)
}

// HCIResponder answers every command with status 0, except those listed
// in statuses. features is returned for LE Read Local Supported Features.
func HCIResponder(statuses map[uint16]byte, features []byte) func(*FakeSocket, []byte) {
	return func(s *FakeSocket, pkt []byte) {
		ocf, _, ok := HCICommand(pkt)
		if !ok {
			return
		}
		opcode := binary.LittleEndian.Uint16(pkt[1:3])
		var data []byte
		if ocf == 0x0003 {
			data = features
		}
		s.Inject(HCICommandComplete(opcode, statuses[ocf], data...))
	}
}

// LEAdvReport builds an LE Advertising Report event carrying payload.
func LEAdvReport(payload []byte) []byte {
	ev := []byte{0x04, 0x3E, 0x00, 0x02, 0x01, 0x03, 0x00, 1, 2, 3, 4, 5, 6, byte(len(payload))}
	ev = append(ev, payload...)
	ev = append(ev, 0xC5)
	ev[2] = byte(len(ev) - 3)
	return ev
}

// LEExtAdvReport builds an LE Extended Advertising Report event.
func LEExtAdvReport(payload []byte) []byte {
	ev := make([]byte, 29, 29+len(payload))
	ev[0], ev[1], ev[3], ev[4] = 0x04, 0x3E, 0x0D, 0x01
	ev[28] = byte(len(payload))
	ev = append(ev, payload...)
	ev[2] = byte(len(ev) - 3)
	return ev
}

// MgmtCommand splits a MGMT command packet.
func MgmtCommand(pkt []byte) (opcode, devID uint16, params []byte, ok bool) {
	if len(pkt) < 6 {
		return 0, 0, nil, false
	}
	return binary.LittleEndian.Uint16(pkt[0:2]), binary.LittleEndian.Uint16(pkt[2:4]), pkt[6:], true
}

// MgmtEvent builds a MGMT event.
func MgmtEvent(event, devID uint16, params ...byte) []byte {
	ev := binary.LittleEndian.AppendUint16(nil, event)
	ev = binary.LittleEndian.AppendUint16(ev, devID)
	ev = binary.LittleEndian.AppendUint16(ev, uint16(len(params)))
	return append(ev, params...)
}

// MgmtCommandComplete builds the Command Complete event for opcode.
func MgmtCommandComplete(devID, opcode uint16, status byte, data ...byte) []byte {
	params := binary.LittleEndian.AppendUint16(nil, opcode)
	params = append(params, status)
	return MgmtEvent(0x0001, devID, append(params, data...)...)
}

// MgmtCommandStatus builds the Command Status event for opcode.
func MgmtCommandStatus(devID, opcode uint16, status byte) []byte {
	params := binary.LittleEndian.AppendUint16(nil, opcode)
	return MgmtEvent(0x0002, devID, append(params, status)...)
}
