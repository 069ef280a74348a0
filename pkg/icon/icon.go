package icon

import _ "embed"

// Logo is the tray and notification icon
//
//go:embed assets/scanmgr.ico
var Logo []byte
