package bootstrap

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("sngo.bootstrap")
