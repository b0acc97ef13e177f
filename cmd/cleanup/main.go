package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
)

var (
	dryRun       = flag.Bool("dry-run", true, "Dry run mode, don't actually delete anything")
	runExpire    = flag.Int("run-expire", 90, "Days to keep terminal runs and their derived data")
	reportExpire = flag.Int("report-expire", 7, "Days to keep local report files already archived to OSS")
	cleanRuns    = flag.Bool("clean-runs", true, "Clean expired terminal runs")
	cleanReports = flag.Bool("clean-reports", true, "Clean local report files archived to OSS")
)

func main() {
	flag.Parse()

	log.Println("Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := connectDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	deletedRuns := 0
	deletedFiles := 0

	// 1. 清理过期的终态任务及其派生数据
	if *cleanRuns {
		log.Printf("Cleaning terminal runs older than %d days...", *runExpire)
		deletedRuns = cleanExpiredRuns(db, *runExpire, *dryRun)
	}

	// 2. 清理已归档到 OSS 的本地报告文件
	if *cleanReports {
		log.Printf("Cleaning local report files archived to OSS...")
		deletedFiles = cleanArchivedReports(db, cfg.Report.LocalDir, *reportExpire, *dryRun)
	}

	log.Println(strings.Repeat("=", 60))
	log.Printf("Deleted runs: %d", deletedRuns)
	log.Printf("Deleted report files: %d", deletedFiles)
	if *dryRun {
		log.Println("DRY RUN MODE - nothing was actually deleted")
		log.Println("Run with -dry-run=false to actually delete")
	} else {
		log.Println("Cleanup completed")
	}
	log.Println(strings.Repeat("=", 60))
}

// cleanExpiredRuns 删除过期终态任务和它们的派生行。
// 提交数据按 (org, user, year) 复用，只有该范围内的 run 全部删除后才清提交。
func cleanExpiredRuns(db *gorm.DB, expireDays int, dryRun bool) int {
	cutoff := time.Now().AddDate(0, 0, -expireDays)

	var runs []model.AnalysisRun
	err := db.Where("status IN ?", []string{
		model.RunStatusDone,
		model.RunStatusFailed,
		model.RunStatusCancelled,
	}).Where("updated_at < ?", cutoff).Find(&runs).Error
	if err != nil {
		log.Printf("Failed to query expired runs: %v", err)
		return 0
	}

	log.Printf("Found %d expired runs", len(runs))
	count := 0
	for _, run := range runs {
		log.Printf("  - run %d (%s/%s %d, %s, %s old)",
			run.ID, run.Org, run.Username, run.Year, run.Status,
			time.Since(run.UpdatedAt).Round(24*time.Hour))
		if dryRun {
			count++
			continue
		}

		runIDs := []int64{run.ID}
		db.Where("run_id IN ?", runIDs).Delete(&model.WorkUnit{})
		db.Where("run_id IN ?", runIDs).Delete(&model.StageResult{})
		db.Where("run_id IN ?", runIDs).Delete(&model.SamplingResult{})
		db.Where("run_id IN ?", runIDs).Delete(&model.FinalReport{})
		if err := db.Delete(&model.AnalysisRun{}, run.ID).Error; err != nil {
			log.Printf("    Failed to delete run %d: %v", run.ID, err)
			continue
		}
		count++
	}
	return count
}

// cleanArchivedReports 删除已在 OSS 有副本的本地报告文件
func cleanArchivedReports(db *gorm.DB, localDir string, keepDays int, dryRun bool) int {
	if localDir == "" {
		localDir = filepath.Join(os.TempDir(), "reports")
	}

	var reports []model.FinalReport
	err := db.Where("artifact_url LIKE ?", "https://%").Find(&reports).Error
	if err != nil {
		log.Printf("Failed to query archived reports: %v", err)
		return 0
	}

	// 为了安全，只删除超过 N 天的旧文件
	expireTime := time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	count := 0
	for _, report := range reports {
		localPath := filepath.Join(localDir,
			fmt.Sprintf("%s_%s_%d.json", report.Org, report.Username, report.Year))

		info, err := os.Stat(localPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			log.Printf("  Failed to stat %s: %v", localPath, err)
			continue
		}
		if info.ModTime().After(expireTime) {
			continue
		}

		log.Printf("  - %s (%.2f KB, archived to OSS)", filepath.Base(localPath), float64(info.Size())/1024)
		if !dryRun {
			if err := os.Remove(localPath); err != nil {
				log.Printf("    Failed to delete: %v", err)
				continue
			}
		}
		count++
	}
	return count
}

// connectDB 连接数据库
func connectDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}
