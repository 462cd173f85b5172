package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"

	"github.com/zhukovaskychina/xfmd/conf"
	"github.com/zhukovaskychina/xfmd/fmd"
	"github.com/zhukovaskychina/xfmd/logger"
	"github.com/zhukovaskychina/xfmd/peer"
)

var fsidPattern = regexp.MustCompile(`^fmd\.\d+\.(\d{4})\.mdlog$`)

// discoverFsids scans dir for existing changelog files and returns the
// distinct fsids found, so the node attaches every filesystem it already
// has a log for on startup.
func discoverFsids(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[uint32]struct{})
	var fsids []uint32
	for _, ent := range entries {
		m := fsidPattern.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		fsid := uint32(v)
		if _, ok := seen[fsid]; ok {
			continue
		}
		seen[fsid] = struct{}{}
		fsids = append(fsids, fsid)
	}
	return fsids, nil
}

const help = `
******************************************************************************************

  __  ____  __ ____   _   _  ___  ____  _____
 / _\|  __||  \  _ \ | \ | |/ _ \|  _ \| ____|
 \ \ | |_  | .  | | || |\| | | | | | | |  _|
 _\ \|  _| | |\ \ |_|| . ' | |_| | |_| | |___
 \__/|_|   |_| \_\___||_|\_|\___/|____/|_____|

******************************************************************************************
* usage:
* 1. -configPath   path to an ini config (section [fmd])
* 2. -fsck         replay every attached log and report, then exit
******************************************************************************************
`

func main() {
	var configPath string
	var fsck bool
	flag.StringVar(&configPath, "configPath", "", "path to ini config file")
	flag.BoolVar(&fsck, "fsck", false, "replay and report without serving")
	flag.Parse()

	fmt.Print(help)

	cfg, err := conf.LoadCfg(configPath)
	if err != nil {
		panic("xfmd: failed to load config: " + err.Error())
	}
	if fsck {
		cfg.FsckOnly = true
		cfg.DumpOnReplay = true
	}

	logConfig := logger.LogConfig{
		ErrorLogPath: cfg.ErrorLogPath,
		InfoLogPath:  cfg.InfoLogPath,
		LogLevel:     cfg.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		panic("xfmd: failed to initialize logger: " + err.Error())
	}

	logger.Infof("xfmd changelog node starting, changelog_dir=%s", cfg.ChangelogDir)

	engine := fmd.NewEngine(fmd.Options{
		ChangelogDir:       cfg.ChangelogDir,
		MaxLogBytes:        cfg.MaxLogBytes,
		ForceVersion:       cfg.ForceVersion,
		DumpOnReplay:       cfg.DumpOnReplay,
		FsckOnly:           cfg.FsckOnly,
		PeerTimeoutSeconds: cfg.PeerTimeoutSeconds,
	})

	fsids, err := discoverFsids(cfg.ChangelogDir)
	if err != nil {
		logger.Errorf("xfmd: failed to scan changelog_dir: %s", err.Error())
		os.Exit(1)
	}
	for _, fsid := range fsids {
		if err := engine.AttachLatest(cfg.ChangelogDir, fsid); err != nil {
			logger.Errorf("xfmd: failed to attach fsid %d: %s", fsid, err.Error())
			os.Exit(1)
		}
	}

	if cfg.FsckOnly {
		logger.Infof("xfmd: fsck complete for %d filesystem(s)", len(fsids))
		return
	}

	client := peer.NewClient(cfg.PeerTimeout())
	defer client.Close()

	logger.Infof("xfmd: ready, serving %d filesystem(s)", len(fsids))
	waitForShutdown(engine)
}

func waitForShutdown(engine *fmd.Engine) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("xfmd: shutting down, syncing open logs")
	if err := engine.SyncAll(); err != nil {
		logger.Errorf("xfmd: sync on shutdown: %s", err.Error())
	}
}
