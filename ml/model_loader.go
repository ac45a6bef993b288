package ml

import (
	"github.com/rotisserie/eris"
)

const (
	KindDecisionTree = "decision_tree"
	KindLogistic     = "logistic"
)

var ErrUnsupportedKind = eris.New("unsupported model type")

func LoadModel(kind, path string) (Classifier, error) {
	switch kind {
	case KindDecisionTree, "":
		model := &DecisionTree{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	case KindLogistic:
		model := &Logistic{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedKind, "%q", kind)
	}
}
