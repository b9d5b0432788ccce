// Copyright (c) OpenMMLab. All rights reserved.

// Package config holds the immutable deployment configuration for a varuna
// training fleet. Everything that is fixed per deployment lives here; the only
// per-invocation inputs (node count, node rank, master address, checkpoint
// iteration) are passed on the varuna-launch command line.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// JobConfig names the job and the external training entry point.
type JobConfig struct {
	Name               string `mapstructure:"name"`
	Python             string `mapstructure:"python"`
	TrainingScript     string `mapstructure:"training_script"`
	DistributedBackend string `mapstructure:"distributed_backend"`
	LossFile           string `mapstructure:"loss_file"`
	FP16               bool   `mapstructure:"fp16"`
	Varuna             bool   `mapstructure:"varuna"`
}

// ModelConfig is the GPT-2 topology block passed through to the training script.
type ModelConfig struct {
	Layers                int `mapstructure:"layers"`
	HiddenSize            int `mapstructure:"hidden_size"`
	AttentionHeads        int `mapstructure:"attention_heads"`
	SeqLength             int `mapstructure:"seq_length"`
	MaxPositionEmbeddings int `mapstructure:"max_position_embeddings"`
}

// PipelineConfig is the varuna partitioning block consumed by the launcher.
type PipelineConfig struct {
	Stages      int `mapstructure:"stages"`
	TotalStages int `mapstructure:"total_stages"`
	BatchSize   int `mapstructure:"batch_size"`
	ChunkSize   int `mapstructure:"chunk_size"`
	GPUsPerNode int `mapstructure:"gpus_per_node"`
}

type OptimizerConfig struct {
	LR           float64 `mapstructure:"lr"`
	MinLR        float64 `mapstructure:"min_lr"`
	LRDecayStyle string  `mapstructure:"lr_decay_style"`
	LRDecayIters int     `mapstructure:"lr_decay_iters"`
	WeightDecay  float64 `mapstructure:"weight_decay"`
	ClipGrad     float64 `mapstructure:"clip_grad"`
	Warmup       float64 `mapstructure:"warmup"`
}

type ScheduleConfig struct {
	TrainIters   int `mapstructure:"train_iters"`
	LogInterval  int `mapstructure:"log_interval"`
	SaveInterval int `mapstructure:"save_interval"`
	EvalInterval int `mapstructure:"eval_interval"`
	EvalIters    int `mapstructure:"eval_iters"`
}

// CheckpointConfig: MaxKept caps retained checkpoints; checkpoints below
// MinPruneIter may be pruned when the cap is exceeded. The external loader
// owns checkpoint validity, not this tooling.
type CheckpointConfig struct {
	SaveDir      string `mapstructure:"save_dir"`
	LoadDir      string `mapstructure:"load_dir"`
	MaxKept      int    `mapstructure:"max_kept"`
	MinPruneIter int    `mapstructure:"min_prune_iter"`
}

type DataConfig struct {
	Path      string `mapstructure:"path"`
	VocabFile string `mapstructure:"vocab_file"`
	MergeFile string `mapstructure:"merge_file"`
	Impl      string `mapstructure:"impl"`
	Split     string `mapstructure:"split"`
}

// NCCLConfig are the transport tuning knobs exported into the child
// environment. They tune diagnostics and socket threading, nothing else.
type NCCLConfig struct {
	Debug           string `mapstructure:"debug"`
	SocketIfname    string `mapstructure:"socket_ifname"`
	NsocksPerThread int    `mapstructure:"nsocks_per_thread"`
	SocketNthreads  int    `mapstructure:"socket_nthreads"`
}

// FleetConfig drives varunactl's remote operations.
type FleetConfig struct {
	MachineList    string        `mapstructure:"machine_list"`
	WorkDir        string        `mapstructure:"work_dir"`
	SSHUser        string        `mapstructure:"ssh_user"`
	SSHPort        int           `mapstructure:"ssh_port"`
	ConnectTimeout int           `mapstructure:"connect_timeout"`
	Parallel       int           `mapstructure:"parallel"`
	Retries        int           `mapstructure:"retries"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	NotifyWebhook  string        `mapstructure:"notify_webhook"`
}

// MonitorConfig drives the varuna-launch side monitor endpoint.
type MonitorConfig struct {
	Listen       string        `mapstructure:"listen"`
	PushGateway  string        `mapstructure:"push_gateway"`
	PushInterval time.Duration `mapstructure:"push_interval"`
}

type Config struct {
	Job        JobConfig        `mapstructure:"job"`
	Model      ModelConfig      `mapstructure:"model"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Data       DataConfig       `mapstructure:"data"`
	NCCL       NCCLConfig       `mapstructure:"nccl"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// setDefaults installs the fixed deployment block: the GPT-2 345M recipe the
// fleet was sized for. A YAML file overrides individual keys; nothing is
// hard-coded at call sites.
func setDefaults(v *viper.Viper) {
	v.SetDefault("job.name", "gpt2_345m")
	v.SetDefault("job.python", "python3")
	v.SetDefault("job.training_script", "pretrain_gpt2.py")
	v.SetDefault("job.distributed_backend", "gloo")
	v.SetDefault("job.loss_file", "varuna_loss.log")
	v.SetDefault("job.fp16", true)
	v.SetDefault("job.varuna", true)

	v.SetDefault("model.layers", 24)
	v.SetDefault("model.hidden_size", 1024)
	v.SetDefault("model.attention_heads", 16)
	v.SetDefault("model.seq_length", 1024)
	v.SetDefault("model.max_position_embeddings", 1024)

	v.SetDefault("pipeline.stages", 4)
	v.SetDefault("pipeline.total_stages", 24)
	v.SetDefault("pipeline.batch_size", 32)
	v.SetDefault("pipeline.chunk_size", 1)
	v.SetDefault("pipeline.gpus_per_node", 4)

	v.SetDefault("optimizer.lr", 0.00015)
	v.SetDefault("optimizer.min_lr", 0.00001)
	v.SetDefault("optimizer.lr_decay_style", "cosine")
	v.SetDefault("optimizer.lr_decay_iters", 320000)
	v.SetDefault("optimizer.weight_decay", 0.01)
	v.SetDefault("optimizer.clip_grad", 1.0)
	v.SetDefault("optimizer.warmup", 0.01)

	v.SetDefault("schedule.train_iters", 500000)
	v.SetDefault("schedule.log_interval", 100)
	v.SetDefault("schedule.save_interval", 10000)
	v.SetDefault("schedule.eval_interval", 1000)
	v.SetDefault("schedule.eval_iters", 10)

	v.SetDefault("checkpoint.save_dir", "checkpoints")
	v.SetDefault("checkpoint.load_dir", "checkpoints")
	v.SetDefault("checkpoint.max_kept", 5)
	v.SetDefault("checkpoint.min_prune_iter", 25000)

	v.SetDefault("data.path", "data/webtext/webtext_text_document")
	v.SetDefault("data.vocab_file", "data/gpt2-vocab.json")
	v.SetDefault("data.merge_file", "data/gpt2-merges.txt")
	v.SetDefault("data.impl", "mmap")
	v.SetDefault("data.split", "949,50,1")

	v.SetDefault("nccl.debug", "INFO")
	v.SetDefault("nccl.socket_ifname", "eth0")
	v.SetDefault("nccl.nsocks_per_thread", 4)
	v.SetDefault("nccl.socket_nthreads", 4)

	v.SetDefault("fleet.machine_list", "available_machines.out")
	v.SetDefault("fleet.work_dir", "/home/varuna/Megatron-LM")
	v.SetDefault("fleet.ssh_user", "")
	v.SetDefault("fleet.ssh_port", 22)
	v.SetDefault("fleet.connect_timeout", 4)
	v.SetDefault("fleet.parallel", 1)
	v.SetDefault("fleet.retries", 0)
	v.SetDefault("fleet.stale_after", 15*time.Minute)
	v.SetDefault("fleet.notify_webhook", "")

	v.SetDefault("monitor.listen", "")
	v.SetDefault("monitor.push_gateway", "")
	v.SetDefault("monitor.push_interval", 15*time.Second)
}

// Load reads the deployment configuration. If path is empty, varuna.yaml is
// looked up in the current directory and /etc/varuna; a missing file is not an
// error (the compiled-in deployment block applies).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("varuna")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/varuna")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read configuration file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects deployment blocks that could never render a usable
// invocation. Checkpoint existence and master reachability stay external.
func (c *Config) Validate() error {
	var problems []string

	checkPositive := func(name string, v int) {
		if v <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %d", name, v))
		}
	}

	checkPositive("model.layers", c.Model.Layers)
	checkPositive("model.hidden_size", c.Model.HiddenSize)
	checkPositive("model.attention_heads", c.Model.AttentionHeads)
	checkPositive("model.seq_length", c.Model.SeqLength)
	checkPositive("model.max_position_embeddings", c.Model.MaxPositionEmbeddings)
	checkPositive("pipeline.stages", c.Pipeline.Stages)
	checkPositive("pipeline.total_stages", c.Pipeline.TotalStages)
	checkPositive("pipeline.batch_size", c.Pipeline.BatchSize)
	checkPositive("pipeline.chunk_size", c.Pipeline.ChunkSize)
	checkPositive("pipeline.gpus_per_node", c.Pipeline.GPUsPerNode)
	checkPositive("schedule.train_iters", c.Schedule.TrainIters)
	checkPositive("fleet.ssh_port", c.Fleet.SSHPort)
	checkPositive("fleet.connect_timeout", c.Fleet.ConnectTimeout)
	checkPositive("fleet.parallel", c.Fleet.Parallel)

	if c.Pipeline.ChunkSize > c.Pipeline.BatchSize {
		problems = append(problems, fmt.Sprintf("pipeline.chunk_size %d exceeds pipeline.batch_size %d",
			c.Pipeline.ChunkSize, c.Pipeline.BatchSize))
	}
	if c.Fleet.Retries < 0 {
		problems = append(problems, fmt.Sprintf("fleet.retries must not be negative, got %d", c.Fleet.Retries))
	}
	if c.Job.TrainingScript == "" {
		problems = append(problems, "job.training_script must not be empty")
	}
	if c.Job.Python == "" {
		problems = append(problems, "job.python must not be empty")
	}
	if c.Fleet.WorkDir == "" {
		problems = append(problems, "fleet.work_dir must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LossFilePath is where the training script writes its loss log.
func (c *Config) LossFilePath() string {
	if filepath.IsAbs(c.Job.LossFile) {
		return c.Job.LossFile
	}
	return filepath.Join(c.Fleet.WorkDir, c.Job.LossFile)
}

// EventDir is where lifecycle events are persisted on each node.
func (c *Config) EventDir() string {
	return filepath.Join(c.Fleet.WorkDir, "events")
}
