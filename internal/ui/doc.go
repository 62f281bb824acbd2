// Package ui provides semantic text formatting for CLI output.
//
// Each formatter names the kind of value it renders (a command, a path, a
// key identifier, a device) rather than a color. When NO_COLOR is set or the
// terminal has no color support, text decorations are used instead:
//
//	ui.Code.Sprint("keyward device begin")  // `keyward device begin`
//	ui.KeyID.Sprint("K0000001")             // [K0000001]
//	ui.Device.Sprint("ABCD.1.device")       // 'ABCD.1.device'
//	ui.Muted.Sprint("inactive")             // (inactive)
package ui
