// Command sngod runs a dispatch system with the built-in modules and, if
// enabled, the TCP gate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/najoast/sndispatch/bootstrap"
	"github.com/najoast/sndispatch/config"
	"github.com/najoast/sndispatch/core"
	"github.com/najoast/sndispatch/examples/echo"
	"github.com/najoast/sndispatch/examples/kv"
)

var log = commonlog.GetLogger("sngod")

func main() {
	configFile := flag.String("config", "", "configuration file (default: search sngo.yaml, config.yaml, ...)")
	watch := flag.Bool("watch", false, "reload log settings when the configuration file changes")
	listModules := flag.Bool("modules", false, "list the available modules and exit")
	flag.Parse()

	modules := core.NewModuleRegistry()
	for _, register := range []func(*core.ModuleRegistry) error{echo.Register, kv.Register} {
		if err := register(modules); err != nil {
			fail(err)
		}
	}

	if *listModules {
		for _, name := range modules.Names() {
			fmt.Println(name)
		}
		return
	}

	loader := config.NewLoader()
	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = loader.Load(*configFile)
	} else {
		cfg, err = loader.AutoLoad()
	}
	if err != nil {
		fail(err)
	}

	app := bootstrap.NewApplication(modules)
	if err := app.Configure(cfg); err != nil {
		fail(err)
	}
	if *watch {
		if *configFile == "" {
			fail(fmt.Errorf("-watch requires -config"))
		}
		if err := app.Watch(*configFile, loader); err != nil {
			fail(err)
		}
	}

	if err := app.Run(context.Background()); err != nil {
		log.Errorf("%s", err.Error())
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "sngod: %s\n", err.Error())
	os.Exit(1)
}
