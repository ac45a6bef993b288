package ml

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
)

// DecisionTree is a fitted tree stored as a flat node array; node 0 is the root.
type DecisionTree struct {
	nodes []TreeNode
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewDecisionTree(nodes []TreeNode) (*DecisionTree, error) {
	if err := validateNodes(nodes); err != nil {
		return nil, err
	}
	return &DecisionTree{nodes: append([]TreeNode(nil), nodes...)}, nil
}

func (dt *DecisionTree) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label, err := dt.predictRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, float64(label))
	}
	return out, nil
}

func (dt *DecisionTree) predictRow(features []float64) (int, error) {
	if len(dt.nodes) == 0 {
		return 0, eris.New("decision tree has no nodes")
	}
	idx := 0
	// a valid tree reaches a leaf in at most len(nodes) steps
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.ClassLabel, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, eris.Errorf("feature index %d out of range for %d features", node.FeatureIdx, len(features))
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return 0, eris.New("invalid tree state")
		}
	}
	return 0, eris.New("decision tree contains a cycle")
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return eris.New("decision tree has no nodes")
	}
	payload, err := json.Marshal(dt.nodes)
	if err != nil {
		return eris.Wrap(err, "marshal decision tree")
	}
	return eris.Wrapf(os.WriteFile(path, payload, 0o600), "write %s", path)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	var nodes []TreeNode
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return eris.Wrapf(err, "decode decision tree %s", path)
	}
	if err := validateNodes(nodes); err != nil {
		return eris.Wrapf(err, "decision tree %s", path)
	}
	dt.nodes = nodes
	return nil
}

func validateNodes(nodes []TreeNode) error {
	if len(nodes) == 0 {
		return eris.New("decision tree has no nodes")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild < 0 || node.LeftChild >= len(nodes) || node.RightChild < 0 || node.RightChild >= len(nodes) {
			return eris.Errorf("node %d has child out of range", i)
		}
	}
	return nil
}
