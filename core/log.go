package core

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("sngo.core")
