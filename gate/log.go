package gate

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("sngo.gate")
