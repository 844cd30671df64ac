package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/xdd/internal/e2e"
	"github.com/ehrlich-b/xdd/internal/gates"
	"github.com/ehrlich-b/xdd/internal/seekplan"
	"github.com/ehrlich-b/xdd/internal/xconst"

	xdd "github.com/ehrlich-b/xdd"
)

var runCmd = &cobra.Command{
	Use:   "run <target-path>",
	Short: "Run a single-target benchmark pass against target-path",
	Long: `Run opens target-path, builds a seek plan of operations_per_worker
operations across worker_count workers, and reports throughput and
latency once every pass completes.

Examples:
  xdd run /dev/sdb --dio --blocksize 4096 --ops 100000 --workers 4
  xdd run /data/out.bin --opkind write --pattern sequential --delete
  xdd run /data/out.bin --e2e-dest 10.0.0.2:40000 --e2e-source
  xdd run /data/in.bin --restart --restart-freq 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.Int64("blocksize", xconst.DefaultBlockSize, "bytes per operation")
	f.Int("ops", xconst.DefaultOperationsPerTask, "operations per worker")
	f.Int("workers", 1, "number of worker goroutines")
	f.Int("buffers", 0, "buffer pool size for E2E targets (0 uses the default, independent of --workers)")
	f.Int("passes", 1, "number of passes over the seek plan")
	f.String("pattern", "sequential", "seek pattern: sequential or random")
	f.String("opkind", "write", "operation mix: write, read, or raw")
	f.Int64("seed", 1, "seek-plan random seed (worker i uses seed+i)")
	f.Bool("dio", false, "open the target with O_DIRECT")
	f.Bool("delete", false, "unlink the target file on cleanup")
	f.Int("syncio", 0, "operations between barrier synchronization points (0 disables)")
	f.String("throttle", "none", "throttle mode: none, delay, or schedule")
	f.Duration("throttle-delay", 0, "fixed per-operation delay when --throttle=delay")
	f.String("e2e-dest", "", "connect to this host:port as the E2E destination")
	f.Bool("e2e-source", false, "this target is the E2E source (requires --e2e-dest)")
	f.Bool("e2e-listen", false, "this target is the E2E destination, listening for connections")
	f.String("e2e-listen-addr", "", "host:port to listen on when --e2e-listen is set")
	f.Bool("restart", false, "maintain a restart checkpoint file for this target")
	f.String("restart-file", "", "restart checkpoint filename (defaults to a generated name)")
	f.Duration("restart-freq", xconst.DefaultRestartFrequency, "checkpoint interval")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	logger := loggerFromFlags(cmd)

	blockSize, _ := cmd.Flags().GetInt64("blocksize")
	ops, _ := cmd.Flags().GetInt("ops")
	workers, _ := cmd.Flags().GetInt("workers")
	buffers, _ := cmd.Flags().GetInt("buffers")
	passes, _ := cmd.Flags().GetInt("passes")
	patternFlag, _ := cmd.Flags().GetString("pattern")
	opkindFlag, _ := cmd.Flags().GetString("opkind")
	seed, _ := cmd.Flags().GetInt64("seed")
	dio, _ := cmd.Flags().GetBool("dio")
	deleteFile, _ := cmd.Flags().GetBool("delete")
	syncio, _ := cmd.Flags().GetInt("syncio")
	throttleFlag, _ := cmd.Flags().GetString("throttle")
	throttleDelay, _ := cmd.Flags().GetDuration("throttle-delay")
	e2eDest, _ := cmd.Flags().GetString("e2e-dest")
	e2eSource, _ := cmd.Flags().GetBool("e2e-source")
	e2eListen, _ := cmd.Flags().GetBool("e2e-listen")
	e2eListenAddr, _ := cmd.Flags().GetString("e2e-listen-addr")
	restartEnable, _ := cmd.Flags().GetBool("restart")
	restartFile, _ := cmd.Flags().GetString("restart-file")
	restartFreq, _ := cmd.Flags().GetDuration("restart-freq")

	pattern, err := parsePattern(patternFlag)
	if err != nil {
		return err
	}
	opKinds, err := parseOpKinds(opkindFlag)
	if err != nil {
		return err
	}
	throttleMode, err := parseThrottleMode(throttleFlag)
	if err != nil {
		return err
	}

	var options xdd.TargetOptions
	if dio {
		options |= xdd.DIO
	}
	if deleteFile {
		options |= xdd.DELETEFILE
	}
	if restartEnable {
		options |= xdd.RestartEnable
	}

	var table e2e.AddressTable
	var transport xdd.Transport
	if e2eSource {
		if e2eDest == "" {
			return fmt.Errorf("--e2e-source requires --e2e-dest host:port")
		}
		options |= xdd.ENDTOEND | xdd.E2ESource
		host, port, err := splitHostPort(e2eDest)
		if err != nil {
			return err
		}
		table = e2e.AddressTable{{Hostname: host, BasePort: port, PortCount: 1}}
		transport = e2e.NewTCPTransport(nil)
	} else if e2eListen {
		if e2eListenAddr == "" {
			return fmt.Errorf("--e2e-listen requires --e2e-listen-addr host:port")
		}
		options |= xdd.ENDTOEND | xdd.E2EDestination
		host, port, err := splitHostPort(e2eListenAddr)
		if err != nil {
			return err
		}
		table = e2e.AddressTable{{Hostname: host, BasePort: port, PortCount: 1}}
		transport = e2e.NewTCPTransport(nil)
	}

	var restartFilename string
	if restartEnable {
		restartFilename = restartFile
		if restartFilename == "" {
			restartFilename = fmt.Sprintf("%s.rst", path)
		}
	}

	plan := &xdd.Plan{
		Passes:                  passes,
		NumberOfTargets:         1,
		Syncio:                  syncio,
		RestartFrequencySeconds: int(restartFreq / time.Second),
		Logger:                  logger,
		Targets: []xdd.TargetSpec{
			{
				Number:              0,
				Path:                path,
				Options:             options,
				BlockSize:           blockSize,
				OperationsPerWorker: ops,
				WorkerCount:         workers,
				BufferCount:         buffers,
				SeekPattern:         pattern,
				OpKinds:             opKinds,
				Seed:                seed,
				ThrottleMode:        throttleMode,
				ThrottleFixedDelay:  throttleDelay,
				E2ETable:            table,
				E2ETransport:        transport,
				RestartFilename:     restartFilename,
			},
		},
	}

	runErr := plan.Run()
	printSummary(plan.Metrics)
	return runErr
}

func parsePattern(s string) (seekplan.Pattern, error) {
	switch s {
	case "sequential":
		return seekplan.Sequential, nil
	case "random":
		return seekplan.Random, nil
	default:
		return 0, fmt.Errorf("unknown --pattern %q (want sequential or random)", s)
	}
}

func parseOpKinds(s string) (seekplan.OpKindPattern, error) {
	switch s {
	case "write":
		return seekplan.AllWrite, nil
	case "read":
		return seekplan.AllRead, nil
	case "raw":
		return seekplan.ReadAfterWrite, nil
	default:
		return 0, fmt.Errorf("unknown --opkind %q (want write, read, or raw)", s)
	}
}

func parseThrottleMode(s string) (gates.ThrottleMode, error) {
	switch s {
	case "none":
		return gates.ThrottleNone, nil
	case "delay":
		return gates.ThrottleDelay, nil
	case "schedule":
		return gates.ThrottleSchedule, nil
	default:
		return 0, fmt.Errorf("unknown --throttle %q (want none, delay, or schedule)", s)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid host:port %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

func printSummary(m *xdd.Metrics) {
	if m == nil {
		return
	}
	snap := m.Snapshot()
	fmt.Printf("ops=%d bytes=%d errors=%d elapsed=%s\n",
		snap.TotalOps, snap.TotalBytes, snap.ReadErrors+snap.WriteErrors,
		time.Duration(snap.UptimeNs))
	fmt.Printf("read: %.2f IOPS %.2f B/s  write: %.2f IOPS %.2f B/s\n",
		snap.ReadIOPS, snap.ReadBandwidth, snap.WriteIOPS, snap.WriteBandwidth)
	fmt.Printf("latency: avg=%s p50=%s p99=%s p999=%s\n",
		time.Duration(snap.AvgLatencyNs), time.Duration(snap.LatencyP50Ns),
		time.Duration(snap.LatencyP99Ns), time.Duration(snap.LatencyP999Ns))
}
