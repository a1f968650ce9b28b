package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/config"
	"github.com/3leaps/gcodeml/internal/observability"
)

var doctorArchive bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  gcodeml doctor            # Grid tools and environment
  gcodeml doctor --archive  # Also check S3 credentials for 'gcodeml archive'`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorArchive, "archive", false, "Check S3 credentials used by the archive command")
}

// lookPath finds executables; replaced in tests.
var lookPath = exec.LookPath

type toolCheck struct {
	label    string
	name     string
	required bool
}

func doctorTools(cfg *config.Config) []toolCheck {
	return []toolCheck{
		{label: "submission tool", name: cfg.Tools.Submit, required: true},
		{label: "status tool", name: cfg.Tools.Status, required: true},
		{label: "retrieval tool", name: cfg.Tools.Get, required: true},
		{label: "proxy info tool", name: cfg.Tools.ProxyInfo, required: cfg.Proxy.Enabled},
		{label: "proxy init tool", name: cfg.Tools.ProxyInit, required: cfg.Proxy.Enabled},
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := observability.CLILogger
	log.Info("=== " + binaryName + " doctor ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	tools := doctorTools(cfg)
	allChecks := true
	missingTool := false
	checkNum := 1
	totalChecks := 4 + len(tools)
	if doctorArchive {
		totalChecks++
	}

	goVersion := runtime.Version()
	log.Info(fmt.Sprintf("[%d/%d] Checking Go runtime... ✅ %s %s/%s", checkNum, totalChecks, goVersion, runtime.GOOS, runtime.GOARCH),
		zap.String("go_version", goVersion))
	checkNum++

	version := crucible.GetVersion()
	if version.Crucible != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	if version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	for _, tc := range tools {
		path, err := lookPath(tc.name)
		switch {
		case err == nil:
			log.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", checkNum, totalChecks, tc.label, path),
				zap.String("tool", tc.name))
		case tc.required:
			log.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s not found in PATH", checkNum, totalChecks, tc.label, tc.name),
				zap.String("tool", tc.name))
			allChecks = false
			missingTool = true
		default:
			log.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s not found (proxy checks disabled)", checkNum, totalChecks, tc.label, tc.name),
				zap.String("tool", tc.name))
		}
		checkNum++
	}

	if err := checkSessionRoot(cfg.Session.Root); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking session root... ❌ %s", checkNum, totalChecks, cfg.Session.Root), zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking session root... ✅ %s", checkNum, totalChecks, cfg.Session.Root))
	}
	checkNum++

	if doctorArchive {
		if !runArchiveCheck(cmd.Context(), cfg, checkNum, totalChecks) {
			allChecks = false
		}
	}

	log.Info("")
	if allChecks {
		log.Info("✅ All checks passed! Your gcodeml installation is healthy.")
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")

	if missingTool {
		return exitError(foundry.ExitExternalServiceUnavailable, "Grid tools missing",
			fmt.Errorf("install the NorduGrid ARC client or set tools.* in the config"))
	}
	return nil
}

// checkSessionRoot verifies the session root exists or can be created.
func checkSessionRoot(root string) error {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(root, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// runArchiveCheck resolves S3 credentials the way the archive command does.
func runArchiveCheck(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	log := observability.CLILogger

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Archive.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Archive.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking archive credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking archive credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking archive credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", source),
		zap.String("bucket", cfg.Archive.Bucket))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure archive credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' and set archive.profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set archive.endpoint")
	log.Info("and archive.force_path_style in the config.")
	log.Info("")
}
