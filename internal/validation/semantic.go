package validation

import (
	"fmt"
	"strings"

	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

// validateSemantic reports inconsistencies the schema cannot express. They
// are warnings: resolvers degrade to nil views on such data rather than fail.
func validateSemantic(ec *xrm.ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	validateContextSemantic(ec, "", result)
	return result
}

func validateContextSemantic(ec *xrm.ExecutionContext, path string, result *schema.ValidationResult) {
	at := func(field string) string {
		if path == "" {
			return field
		}
		return path + "." + field
	}

	target, hasTarget := ec.InputParameters.Entity(xrm.ParameterTarget)
	targets, hasTargets := ec.InputParameters.EntityCollection(xrm.ParameterTargets)

	if hasTarget && hasTargets {
		result.AddWarning(at("InputParameters"), "target_and_targets",
			"both Target and Targets are present; single-record views use Target")
	}

	if hasTarget && ec.PrimaryEntityName != "" &&
		!strings.EqualFold(target.LogicalName, ec.PrimaryEntityName) {
		result.AddWarning(at("InputParameters.Target.LogicalName"), "entity_mismatch",
			fmt.Sprintf("target is %q but the primary entity is %q", target.LogicalName, ec.PrimaryEntityName))
	}

	if hasTargets {
		n := targets.Len()
		checkImageCount(at("PreEntityImagesCollection"), ec.PreEntityImagesCollection, n, result)
		checkImageCount(at("PostEntityImagesCollection"), ec.PostEntityImagesCollection, n, result)
	}

	if ec.Stage != 0 && ec.Stage < xrm.StagePostOperation && len(ec.PostEntityImages) > 0 {
		result.AddWarning(at("PostEntityImages"), "post_image_stage",
			fmt.Sprintf("post images are only delivered in stage %d, got stage %d", xrm.StagePostOperation, ec.Stage))
	}

	for i, img := range ec.PreEntityImages {
		checkImageEntity(at(fmt.Sprintf("PreEntityImages[%d]", i)), img, result)
	}
	for i, img := range ec.PostEntityImages {
		checkImageEntity(at(fmt.Sprintf("PostEntityImages[%d]", i)), img, result)
	}

	if parent := ec.ParentContext; parent != nil {
		if parent.Depth >= ec.Depth && ec.Depth > 0 {
			result.AddWarning(at("ParentContext.Depth"), "depth",
				fmt.Sprintf("parent depth %d is not below depth %d", parent.Depth, ec.Depth))
		}
		validateContextSemantic(parent, at("ParentContext"), result)
	}
}

func checkImageCount(path string, images []xrm.EntityImageCollection, targets int, result *schema.ValidationResult) {
	if len(images) == 0 || len(images) == targets {
		return
	}
	result.AddWarning(path, "image_count",
		fmt.Sprintf("%d image sets for %d targets; per-record images will not resolve", len(images), targets))
}

func checkImageEntity(path string, img xrm.EntityImage, result *schema.ValidationResult) {
	if img.Entity == nil {
		result.AddWarning(path, "empty_image", fmt.Sprintf("image %q has no record", img.Name))
	}
}
