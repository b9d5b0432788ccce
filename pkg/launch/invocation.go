// Copyright (c) OpenMMLab. All rights reserved.

package launch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/liokouras/varuna/pkg/config"
)

// Invocation is a fully rendered child command: program, argument vector and
// the extra environment appended to the parent environment at exec time.
type Invocation struct {
	Program string
	Args    []string
	Env     []string
}

// Render produces the single training invocation for one node. The result is
// deterministic: the same configuration and parameters always yield the same
// argv and the same (sorted) env.
func Render(cfg *config.Config, p Params) Invocation {
	args := []string{
		"-m", "varuna.launcher",
		"--ngpus_per_server", strconv.Itoa(cfg.Pipeline.GPUsPerNode),
		"--nservers", strconv.Itoa(p.NNodes),
		"--node_rank", strconv.Itoa(p.NodeRank),
		"--master_addr", p.MasterAddr,
		"--nstages", strconv.Itoa(cfg.Pipeline.Stages),
		"--batch_size", strconv.Itoa(cfg.Pipeline.BatchSize),
		"--chunk_size", strconv.Itoa(cfg.Pipeline.ChunkSize),
		"--total_num_stages", strconv.Itoa(cfg.Pipeline.TotalStages),
		cfg.Job.TrainingScript,
	}

	args = append(args,
		"--num-layers", strconv.Itoa(cfg.Model.Layers),
		"--hidden-size", strconv.Itoa(cfg.Model.HiddenSize),
		"--num-attention-heads", strconv.Itoa(cfg.Model.AttentionHeads),
		"--seq-length", strconv.Itoa(cfg.Model.SeqLength),
		"--max-position-embeddings", strconv.Itoa(cfg.Model.MaxPositionEmbeddings),
		"--train-iters", strconv.Itoa(cfg.Schedule.TrainIters),
		"--lr-decay-iters", strconv.Itoa(cfg.Optimizer.LRDecayIters),
		"--save", cfg.Checkpoint.SaveDir,
		"--load", cfg.Checkpoint.LoadDir,
		"--data-path", cfg.Data.Path,
		"--vocab-file", cfg.Data.VocabFile,
		"--merge-file", cfg.Data.MergeFile,
		"--data-impl", cfg.Data.Impl,
		"--split", cfg.Data.Split,
		"--distributed-backend", cfg.Job.DistributedBackend,
		"--lr", formatFloat(cfg.Optimizer.LR),
		"--min-lr", formatFloat(cfg.Optimizer.MinLR),
		"--lr-decay-style", cfg.Optimizer.LRDecayStyle,
		"--weight-decay", formatFloat(cfg.Optimizer.WeightDecay),
		"--clip-grad", formatFloat(cfg.Optimizer.ClipGrad),
		"--warmup", formatFloat(cfg.Optimizer.Warmup),
		"--log-interval", strconv.Itoa(cfg.Schedule.LogInterval),
		"--save-interval", strconv.Itoa(cfg.Schedule.SaveInterval),
		"--eval-interval", strconv.Itoa(cfg.Schedule.EvalInterval),
		"--eval-iters", strconv.Itoa(cfg.Schedule.EvalIters),
		"--max-num-ckpts", strconv.Itoa(cfg.Checkpoint.MaxKept),
		"--min-ckpt-iter", strconv.Itoa(cfg.Checkpoint.MinPruneIter),
		"--loss-file", cfg.Job.LossFile,
		"--resume-iteration", strconv.Itoa(p.CheckpointIter),
	)

	if cfg.Job.FP16 {
		args = append(args, "--fp16")
	}
	if cfg.Job.Varuna {
		args = append(args, "--varuna")
	}

	env := []string{
		"NCCL_DEBUG=" + cfg.NCCL.Debug,
		"NCCL_SOCKET_IFNAME=" + cfg.NCCL.SocketIfname,
		"NCCL_NSOCKS_PERTHREAD=" + strconv.Itoa(cfg.NCCL.NsocksPerThread),
		"NCCL_SOCKET_NTHREADS=" + strconv.Itoa(cfg.NCCL.SocketNthreads),
	}
	sort.Strings(env)

	return Invocation{
		Program: cfg.Job.Python,
		Args:    args,
		Env:     env,
	}
}

// String renders the invocation as a single shell-style line for logs and the
// dry-run output.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, inv.Program)
	parts = append(parts, inv.Args...)
	return strings.Join(parts, " ")
}

// formatFloat keeps the conventional spelling of training hyperparameters:
// 1.0 instead of 1, 1e-05 instead of 0.00001.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
