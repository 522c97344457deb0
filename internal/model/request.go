package model

import (
	"errors"
	"fmt"
)

const (
	VariableContinuous = "continuous"
	VariableDiscrete   = "discrete"

	DefaultFileDelimiter = "tab"
)

const (
	AlgorithmFGES         = "FGES"
	AlgorithmFGESDiscrete = "FGES-discrete"
	AlgorithmGFCI         = "GFCI"
	AlgorithmGFCIDiscrete = "GFCI-discrete"
)

// AlgorithmParamRequest 提交到集群的作业参数
type AlgorithmParamRequest struct {
	DatasetPath        string               `json:"dataset_path"`
	DatasetMd5         string               `json:"dataset_md5,omitempty"`
	PriorKnowledgePath string               `json:"prior_knowledge_path,omitempty"`
	PriorKnowledgeMd5  string               `json:"prior_knowledge_md5,omitempty"`
	VariableType       string               `json:"variable_type"`
	FileDelimiter      string               `json:"file_delimiter"`
	DataValidation     DataValidation       `json:"data_validation"`
	AlgorithmParams    []AlgorithmParameter `json:"algorithm_parameters,omitempty"`
	JvmOptions         []JvmOption          `json:"jvm_options,omitempty"`
	HpcParams          []HpcParameter       `json:"hpc_parameters,omitempty"`
}

type DataValidation struct {
	UniqueVarName   bool `json:"unique_var_name"`
	NonZeroVariance bool `json:"non_zero_variance"`
	CategoryLimit   bool `json:"category_limit"`
}

type AlgorithmParameter struct {
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

type JvmOption struct {
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

type HpcParameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Normalize fills the defaults the cluster expects and validates the rest.
func (r *AlgorithmParamRequest) Normalize() error {
	if r.DatasetPath == "" {
		return errors.New("dataset path is required")
	}
	if r.VariableType == "" {
		r.VariableType = VariableContinuous
	}
	if r.VariableType != VariableContinuous && r.VariableType != VariableDiscrete {
		return fmt.Errorf("unknown variable type %q", r.VariableType)
	}
	if r.FileDelimiter == "" {
		r.FileDelimiter = DefaultFileDelimiter
	}

	r.DataValidation.UniqueVarName = true
	if r.VariableType == VariableContinuous {
		r.DataValidation.NonZeroVariance = true
		r.DataValidation.CategoryLimit = false
	} else {
		r.DataValidation.NonZeroVariance = false
		r.DataValidation.CategoryLimit = true
	}
	return nil
}

// WallTime returns the requested walltime, if any.
func (r *AlgorithmParamRequest) WallTime() (string, bool) {
	for _, p := range r.HpcParams {
		if p.Key == "walltime" {
			return p.Value, true
		}
	}
	return "", false
}

// ResolveAlgorithm 离散数据使用对应的离散版本算法
func ResolveAlgorithm(name, variableType string) string {
	if variableType != VariableDiscrete {
		return name
	}
	switch name {
	case AlgorithmFGES:
		return AlgorithmFGESDiscrete
	case AlgorithmGFCI:
		return AlgorithmGFCIDiscrete
	}
	return name
}
