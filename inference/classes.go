package inference

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rcnn/common"
)

// VOCClasses are the 20 Pascal VOC foreground classes in label order.
var VOCClasses = []string{
	"aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat", "chair", "cow",
	"diningtable", "dog", "horse", "motorbike", "person", "pottedplant", "sheep", "sofa", "train", "tvmonitor",
}

// COCOClasses are the 80 COCO foreground classes in label order.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ClassNames returns the foreground classes of a dataset ("voc" or "coco").
func ClassNames(dataset string) ([]string, error) {
	switch dataset {
	case "voc":
		return VOCClasses, nil
	case "coco":
		return COCOClasses, nil
	default:
		return nil, errors.Wrapf(common.ErrConfiguration, "unknown dataset %q", dataset)
	}
}

// ClassName returns the name of a 0-based class id, or "unknown".
func ClassName(names []string, id int) string {
	if id < 0 || id >= len(names) {
		return "unknown"
	}
	return names[id]
}
