package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	acqcore "github.com/digitizers/acqcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("acqcored: could not open log file %q: %s", pfname, err)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,
		MaxBackups: 4,
		MaxAge:     180,
		Compress:   true,
	})
	return probLogger
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1)
	acqcore.Build.Version = "0.1.0"
	acqcore.Build.Githash = githash
	acqcore.Build.Gitdate = gitdate
	acqcore.Build.Summary = fmt.Sprintf("acqcored version %s (git commit %s of %s)", acqcore.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		acqcore.Build.Host = host
	} else {
		acqcore.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	portRPC := flag.Int("port", 0, "RPC port override (0 = use the built-in default)")
	publishPort := flag.Int("publish-port", 0, "tag/status publish port override (0 = disabled)")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is acqcored version %s\n", acqcore.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is acqcored version %s (git commit %s)\n", acqcore.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(home, ".acqcored", "logs")
	problemname, err := acqcore.MakeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	acqcore.ProblemLogger = startLogger(problemname)
	fmt.Printf("Logging problems to %s\n\n", problemname)

	if err := acqcore.SetupViper(); err != nil {
		panic(err)
	}

	driver := acqcore.NewSimulatedDriver()
	block := acqcore.NewBlock(driver)

	var pub *acqcore.TagPublisher
	if *publishPort != 0 {
		pub, err = acqcore.NewTagPublisher(*publishPort)
		if err != nil {
			log.Fatalf("acqcored: could not start tag publisher: %s", err)
		}
		defer pub.Close()
	}

	rpcPort := acqcore.Ports.RPC
	if *portRPC != 0 {
		rpcPort = *portRPC
	}
	if err := acqcore.RunRPCServer(block, pub, rpcPort); err != nil {
		log.Fatalf("acqcored: RPC server exited: %s", err)
	}

	writeMemoryProfile(memprofile)
}

func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}
	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
