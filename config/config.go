package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database DatabaseConfig  `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	JWT      JWTConfig       `mapstructure:"jwt"`
	Log      LogConfig       `mapstructure:"log"`
	HPC      HPCConfig       `mapstructure:"hpc"`
	Upload   UploadConfig    `mapstructure:"upload"`
	Queue    QueueConfig     `mapstructure:"queue"`
	OSS      OSSConfig       `mapstructure:"oss"`
	Minio    MinioConfig     `mapstructure:"minio"`
	CORS     CORSConfig      `mapstructure:"cors"`
	Accounts []AccountConfig `mapstructure:"accounts"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Path         string `mapstructure:"path"`   // sqlite 文件路径
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Enabled redis 是可选依赖
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

type HPCConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	CollectInterval time.Duration `mapstructure:"collect_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	WorkDir         string        `mapstructure:"work_dir"`     // 预处理临时文件
	DownloadDir     string        `mapstructure:"download_dir"` // 结果文件
	SecretKey       string        `mapstructure:"secret_key"`   // 账号密码加密
	ClientID        string        `mapstructure:"client_id"`
}

type UploadConfig struct {
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	Backend       string `mapstructure:"backend"` // http, oss, minio
	ExpireHours   int    `mapstructure:"expire_hours"`
}

type QueueConfig struct {
	Backend string `mapstructure:"backend"` // memory, redis
	Name    string `mapstructure:"name"`
	Size    int    `mapstructure:"size"` // memory 队列初始容量
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// AccountConfig 启动时导入的集群账号
type AccountConfig struct {
	ConnectionName string `mapstructure:"connection_name"`
	Scheme         string `mapstructure:"scheme"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "hpc_jobs.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("hpc.poll_interval", 10*time.Second)
	v.SetDefault("hpc.token_ttl", time.Hour)
	v.SetDefault("hpc.collect_interval", time.Minute)
	v.SetDefault("hpc.request_timeout", 30*time.Second)
	v.SetDefault("hpc.work_dir", filepath.Join(os.TempDir(), "hpc_jobs", "work"))
	v.SetDefault("hpc.download_dir", filepath.Join(os.TempDir(), "hpc_jobs", "results"))
	v.SetDefault("hpc.client_id", "hpc_job_server")
	v.SetDefault("upload.max_concurrent", 2)
	v.SetDefault("upload.backend", "http")
	v.SetDefault("upload.expire_hours", 24)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.name", "hpc_preprocess")
	v.SetDefault("queue.size", 256)
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
