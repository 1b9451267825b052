// Package autoload registers all built-in channel factories. Import it for
// side effects:
//
//	import _ "scholar/pkg/channels/autoload"
package autoload

import (
	_ "scholar/pkg/channels/telegram"
	_ "scholar/pkg/channels/web"
)
