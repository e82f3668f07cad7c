package postprocess

import "fmt"

// COCOClasses lists the 80 COCO categories with the background slot the head
// reserves at index 0, matching Detection.Class numbering.
var COCOClasses = []string{
	"__background__", "person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep",
	"cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase",
	"frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich",
	"orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
	"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ClassName returns the COCO name for a class id produced by Predictions.
func ClassName(id int) string {
	if id >= 0 && id < len(COCOClasses) {
		return COCOClasses[id]
	}
	return fmt.Sprintf("unknown_%d", id)
}

// ClassMapping returns a mapping of class names to their ids.
func ClassMapping() map[string]int {
	mapping := make(map[string]int)
	for i, name := range COCOClasses {
		mapping[name] = i
	}
	return mapping
}
